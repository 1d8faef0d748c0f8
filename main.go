package main

import "pminsight/internal/app"

func main() {
	app.Main()
}
