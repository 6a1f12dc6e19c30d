package main

import "github.com/Utkarshchaudhary009/Docverse/cmd"

func main() {
	cmd.Execute()
}
