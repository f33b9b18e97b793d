// Command dtrsign signs daily time records and leave applications with
// a visible stamp and a detached CMS signature.
//
// Usage:
//
//	dtrsign <command> [options] <args>
//
// Commands:
//
//	sign     Sign a PDF with a role's stamp and digital signature
//	inspect  List the signature fields of a PDF
//	verify   Verify the embedded signature(s) of a PDF
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign a time record as the owner
//	dtrsign sign -role owner -p12 owner.p12 -image stamp.png dtr.pdf signed.pdf
//
//	# Countersign for the whole month, one stamp per day
//	dtrsign sign -role incharge -p12 sup.p12 -image stamp.png -whole-month -days 31 signed.pdf out.pdf
//
//	# Verify with JSON output
//	dtrsign verify -json out.pdf
package main

import (
	"os"

	"dtrsign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/dtrsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
