package main

import "intake-bot-backend/cmd"

func main() {
	cmd.Execute()
}
