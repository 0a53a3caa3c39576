package main

import "github.com/CosmoTheDev/painscan/cmd"

func main() {
	cmd.Execute()
}
