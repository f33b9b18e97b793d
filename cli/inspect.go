package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"dtrsign/certstore"
	"dtrsign/pdf/reader"
)

// InspectOutput is the JSON-serializable inspection result.
type InspectOutput struct {
	Version string             `json:"version"`
	Pages   int                `json:"pages"`
	Fields  []InspectFieldInfo `json:"fields"`
}

// InspectFieldInfo describes one signature field.
type InspectFieldInfo struct {
	Name   string `json:"name"`
	Signed bool   `json:"signed"`
}

// InspectCommand implements the 'inspect' command.
func InspectCommand(args []string) {
	inspectFlags := flag.NewFlagSet("inspect", flag.ExitOnError)

	jsonOut := inspectFlags.Bool("json", false, "Output results in JSON format")
	p12Path := inspectFlags.String("p12", "", "Inspect a PKCS#12 credential instead of a PDF")
	passphrase := inspectFlags.String("passphrase", os.Getenv("DTRSIGN_PASSPHRASE"), "Credential passphrase (defaults to $DTRSIGN_PASSPHRASE)")

	inspectFlags.Usage = func() {
		fmt.Printf("Usage: %s inspect [options] <input.pdf>\n", os.Args[0])
		fmt.Printf("       %s inspect -p12 <credential.p12>\n\n", os.Args[0])
		fmt.Println("List the signature fields of a PDF, or show the certificate")
		fmt.Println("inside a PKCS#12 credential.")
		fmt.Println("")
		fmt.Println("Options:")
		inspectFlags.PrintDefaults()
	}

	if err := inspectFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if *p12Path != "" {
		if err := inspectCredential(*p12Path, *passphrase, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		return
	}

	if len(inspectFlags.Args()) < 1 {
		inspectFlags.Usage()
		osExit(1)
	}

	output, err := inspectPDF(inspectFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(output)
		return
	}

	fmt.Printf("PDF %s, %d page(s)\n", output.Version, output.Pages)
	if len(output.Fields) == 0 {
		fmt.Println("No signature fields.")
		return
	}
	for _, f := range output.Fields {
		state := "unsigned"
		if f.Signed {
			state = "signed"
		}
		fmt.Printf("  %s  [%s]\n", f.Name, state)
	}
}

func inspectPDF(path string) (*InspectOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, err
	}
	fields, err := doc.SignatureFields()
	if err != nil {
		return nil, err
	}
	output := &InspectOutput{Version: doc.Version, Pages: doc.NumPages()}
	for _, f := range fields {
		output.Fields = append(output.Fields, InspectFieldInfo{Name: f.Name, Signed: f.Signed})
	}
	return output, nil
}

// inspectCredential loads a PKCS#12 file and prints its certificate
// details. The key material is wiped before returning.
func inspectCredential(path, passphrase string, jsonOut bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	bundle, err := certstore.Load(data, passphrase)
	if err != nil {
		return err
	}
	defer bundle.Close()

	info := bundle.Info()
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Subject:     %s\n", info.Subject)
	fmt.Printf("Issuer:      %s\n", info.Issuer)
	fmt.Printf("Serial:      %s\n", info.SerialNumber)
	fmt.Printf("Valid:       %s to %s\n",
		info.NotBefore.Format(time.RFC3339), info.NotAfter.Format(time.RFC3339))
	fmt.Printf("Key:         %s %d\n", info.KeyType, info.KeyBits)
	fmt.Printf("Chain certs: %d\n", info.ChainLength)
	return nil
}
