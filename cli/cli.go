// Package cli provides the command-line interface for signing and
// inspecting time record and leave application PDFs.
package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "sign":
		SignCommand(args)
	case "inspect":
		InspectCommand(args)
	case "verify":
		VerifyCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("dtrsign - time record and leave application signing tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign     Sign a PDF with a role's stamp and digital signature")
	fmt.Println("  inspect  List the signature fields of a PDF")
	fmt.Println("  verify   Verify the embedded signature(s) of a PDF")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -role owner -p12 owner.p12 -image stamp.png dtr.pdf signed.pdf\n", os.Args[0])
	fmt.Printf("  %s verify -json signed.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("dtrsign version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}

// newLogger builds the process logger from the configured level and
// format.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
