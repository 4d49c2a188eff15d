package main

import (
	"github.com/AdguardTeam/uradvd/internal/cmd"
)

func main() {
	cmd.Main()
}
