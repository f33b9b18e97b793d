package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"dtrsign/pdf/reader"
	"dtrsign/sign/cms"
)

// VerifyOutput is the complete verification output.
type VerifyOutput struct {
	Signatures []*VerifyResult `json:"signatures"`
}

// VerifyResult is a JSON-serializable verification result for a single
// signature.
type VerifyResult struct {
	SignatureIndex int              `json:"signature_index"`
	FieldName      string           `json:"field_name,omitempty"`
	Status         string           `json:"status"`
	SignerName     string           `json:"signer_name,omitempty"`
	SigningTime    string           `json:"signing_time,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	SubFilter      string           `json:"sub_filter,omitempty"`
	Error          string           `json:"error,omitempty"`
	Certificate    *CertificateInfo `json:"certificate,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	jsonOut := verifyFlags.Bool("json", false, "Output results in JSON format")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Verify the embedded signature(s) of a PDF file: each")
		fmt.Println("signature's byte ranges are checked against the document and")
		fmt.Println("the CMS container is verified against the embedded certificate.")
		fmt.Println("Trust chain building against a root store is not performed.")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify signed.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json signed.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}
	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	output, err := verifyPDF(verifyFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(output)
	} else {
		printVerifyResults(output)
	}

	for _, result := range output.Signatures {
		if result.Status == "INVALID" {
			osExit(1)
		}
	}
}

func verifyPDF(path string) (*VerifyOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, err
	}
	sigs, err := doc.EmbeddedSignatures()
	if err != nil {
		return nil, err
	}

	output := &VerifyOutput{}
	for i, sig := range sigs {
		result := &VerifyResult{
			SignatureIndex: i,
			FieldName:      sig.FieldName,
			SubFilter:      sig.SubFilter,
			SignerName:     sig.Name,
			Reason:         sig.Reason,
			Status:         "INVALID",
		}
		output.Signatures = append(output.Signatures, result)

		covered, err := sig.SignedData(data)
		if err != nil {
			result.Error = err.Error()
			continue
		}
		verified, err := cms.Verify(sig.Contents, covered)
		if err != nil {
			result.Error = err.Error()
			continue
		}
		result.Status = "VALID"
		if !verified.SigningTime.IsZero() {
			result.SigningTime = verified.SigningTime.Format(time.RFC3339)
		}
		cert := verified.Certificate
		result.Certificate = &CertificateInfo{
			Subject:   cert.Subject.String(),
			Issuer:    cert.Issuer.String(),
			Serial:    cert.SerialNumber.String(),
			NotBefore: cert.NotBefore.Format(time.RFC3339),
			NotAfter:  cert.NotAfter.Format(time.RFC3339),
		}
	}
	return output, nil
}

func printVerifyResults(output *VerifyOutput) {
	if len(output.Signatures) == 0 {
		fmt.Println("No signatures found.")
		return
	}
	for _, r := range output.Signatures {
		fmt.Printf("Signature %d (%s): %s\n", r.SignatureIndex, r.FieldName, r.Status)
		if r.Error != "" {
			fmt.Printf("  error: %s\n", r.Error)
		}
		if r.Certificate != nil {
			fmt.Printf("  signer: %s\n", r.Certificate.Subject)
			if r.SigningTime != "" {
				fmt.Printf("  signed: %s\n", r.SigningTime)
			}
		}
	}
}
