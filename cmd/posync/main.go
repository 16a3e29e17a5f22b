// Command posync is the offline-first sync core for point-of-sale terminals.
package main

import (
	"context"
	"os"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
