package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.n16f.net/program"
)

func addCertificateCommands() {
	var c *program.Command

	c = p.AddCommand("certificate", "print a previously downloaded certificate",
		cmdCertificate)

	c.AddOption("f", "format", "format", "summary",
		"the output format, either \"summary\" or \"pem\"")

	c.AddArgument("name", "the primary domain name of the certificate")
}

func cmdCertificate(p *program.Program) {
	name := encodeDomainName(p.ArgumentValue("name"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cert, err := account(ctx).Certificate(name)
	if err != nil {
		p.Fatal("cannot load certificate: %v", err)
	}

	if cert == nil {
		p.Fatal("no certificate available for %q", name)
	}

	switch format := p.OptionValue("format"); format {
	case "pem":
		fmt.Print(cert.CertificatePEM())

	case "summary":
		chain, err := cert.Chain()
		if err != nil {
			p.Fatal("cannot decode certificate chain: %v", err)
		}

		daysLeft, err := cert.ValidDaysLeft(time.Now())
		if err != nil {
			p.Fatal("cannot compute validity: %v", err)
		}

		leaf := chain[0]
		fingerprint := sha256.Sum256(leaf.Raw)

		t := program.NewKeyValueTable()

		t.AddRow("subject", leaf.Subject.String())
		t.AddRow("issuer", leaf.Issuer.String())
		t.AddRow("DNS names", strings.Join(leaf.DNSNames, "\n"))
		t.AddRow("not after", leaf.NotAfter.Format(time.RFC3339))
		t.AddRow("valid days left", daysLeft)
		t.AddRow("SHA-256 fingerprint", hex.EncodeToString(fingerprint[:]))
		t.AddRow("chain length", len(chain))

		t.Print()

	default:
		p.Fatal("unknown format %q", format)
	}
}
