package main

import "github.com/classtrack/attendance-engine/cmd"

func main() {
	cmd.Execute()
}
