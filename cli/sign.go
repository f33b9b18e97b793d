package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"dtrsign"
	"dtrsign/config"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	Role       string
	DocType    string
	ImagePath  string
	P12Path    string
	Passphrase string
	ConfigPath string
	WholeMonth bool
	Days       int
	Page       int
	Name       string
	Reason     string
	Location   string
	Contact    string
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions

	signFlags.StringVar(&opts.Role, "role", "", "Signing role: owner, incharge, head, sao or cao")
	signFlags.StringVar(&opts.DocType, "doc", "time-record", "Document type: time-record or leave-application")
	signFlags.StringVar(&opts.ImagePath, "image", "", "PNG or JPEG stamp image")
	signFlags.StringVar(&opts.P12Path, "p12", "", "PKCS#12 credential file")
	signFlags.StringVar(&opts.Passphrase, "passphrase", os.Getenv("DTRSIGN_PASSPHRASE"), "Credential passphrase (defaults to $DTRSIGN_PASSPHRASE)")
	signFlags.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	signFlags.BoolVar(&opts.WholeMonth, "whole-month", false, "Keep the whole-month stamp coordinates")
	signFlags.IntVar(&opts.Days, "days", 0, "Stamp one grid cell per day (whole-month mode only)")
	signFlags.IntVar(&opts.Page, "page", 0, "Zero-based page carrying the stamps")
	signFlags.StringVar(&opts.Name, "name", "", "Name of the signatory (defaults to the certificate subject)")
	signFlags.StringVar(&opts.Reason, "reason", "", "Reason for signing")
	signFlags.StringVar(&opts.Location, "location", "", "Location of the signatory")
	signFlags.StringVar(&opts.Contact, "contact", "", "Contact information for signatory")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.pdf> <output.pdf>\n\n", os.Args[0])
		fmt.Println("Sign a PDF with a role's stamp and digital signature.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf   Input PDF file to sign")
		fmt.Println("  output.pdf  Output file for the signed PDF")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -role owner -p12 owner.p12 -image stamp.png dtr.pdf signed.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -role incharge -p12 sup.p12 -image stamp.png -whole-month -days 31 dtr.pdf signed.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -role cao -doc leave-application -p12 cao.p12 -image stamp.png leave.pdf signed.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 2 || opts.Role == "" || opts.ImagePath == "" || opts.P12Path == "" {
		signFlags.Usage()
		osExit(1)
	}

	inputPath := signFlags.Arg(0)
	outputPath := signFlags.Arg(1)

	if err := signPDF(inputPath, outputPath, &opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", dtrsign.Classify(err), err)
		osExit(1)
	}

	fmt.Printf("Successfully signed PDF: %s\n", outputPath)
}

// signPDF performs the actual signing pass.
func signPDF(inputPath, outputPath string, opts *SignOptions) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	role, err := dtrsign.ParseRole(opts.Role)
	if err != nil {
		return err
	}
	docType, err := parseDocType(opts.DocType)
	if err != nil {
		return err
	}

	pdf, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	p12, err := os.ReadFile(opts.P12Path)
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	image, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to read stamp image: %w", err)
	}

	pipeOpts, err := dtrsign.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	pipeOpts.Logger = logger

	result, err := dtrsign.NewPipeline(pipeOpts).Sign(context.Background(), &dtrsign.SignRequest{
		PDF:        pdf,
		P12:        p12,
		Passphrase: opts.Passphrase,
		Image:      image,
		Role:       role,
		DocType:    docType,
		Page:       opts.Page,
		WholeMonth: opts.WholeMonth,
		Days:       opts.Days,
		SignerName: opts.Name,
		Reason:     opts.Reason,
		Location:   opts.Location,
		Contact:    opts.Contact,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, result.PDF, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func parseDocType(s string) (dtrsign.DocType, error) {
	switch s {
	case "time-record", "dtr":
		return dtrsign.DocTimeRecord, nil
	case "leave-application", "leave":
		return dtrsign.DocLeaveApplication, nil
	}
	return 0, fmt.Errorf("unknown document type %q (time-record or leave-application)", s)
}
