// Command bookingctl is the operator CLI for the booking ledger.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "bookingctl",
		Short:   "bookingctl - inspect and repair bookings in the payment ledger",
		Version: Version,
	}

	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(retryCaptureCmd())
	rootCmd.AddCommand(releaseHoldCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
