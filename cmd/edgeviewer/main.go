package main

import "github.com/bryanchriswhite/EdgeViewer/cmd/edgeviewer/commands"

func main() {
	commands.Execute()
}
