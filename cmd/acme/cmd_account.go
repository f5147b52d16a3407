package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.n16f.net/program"
)

func addAccountCommand() {
	p.AddCommand("account", "register or load the account and print it",
		cmdAccount)
	p.AddCommand("account-key", "print the PEM private key of the account",
		cmdAccountKey)
}

func cmdAccount(p *program.Program) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a := account(ctx)
	object := a.Object()

	t := program.NewKeyValueTable()

	t.AddRow("URI", a.URI())
	t.AddRow("contact email", a.ContactEmail())
	t.AddRow("status", string(object.Status))
	t.AddRow("contact URIs", strings.Join(object.Contact, "\n"))
	t.AddRow("orders URI", object.Orders)

	t.Print()
}

func cmdAccountKey(p *program.Program) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	keyPEM, err := account(ctx).PrivateKeyPEM()
	if err != nil {
		p.Fatal("cannot encode private key: %v", err)
	}

	fmt.Print(keyPEM)
}
