package main

import "github.com/MohMaya/claude-glm-wrapper/cmd"

func main() {
	cmd.Execute()
}
