package main

import (
	"context"
	"strings"
	"time"

	"go.n16f.net/program"
	"golang.org/x/net/idna"
)

func addOrderCommands() {
	var c *program.Command

	c = p.AddCommand("order", "create a new certificate order", cmdOrder)

	c.AddArgument("name", "the primary domain name of the certificate")
	c.AddTrailingArgument("alt-name", "an alternative domain name")
}

func cmdOrder(p *program.Program) {
	primaryName := encodeDomainName(p.ArgumentValue("name"))

	altNames := p.TrailingArgumentValues("alt-name")
	for i, name := range altNames {
		altNames[i] = encodeDomainName(name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	order, err := account(ctx).NewOrder(ctx, primaryName, altNames...)
	if err != nil {
		p.Fatal("cannot create order: %v", err)
	}

	ids := make([]string, len(order.Object.Identifiers))
	for i, id := range order.Object.Identifiers {
		ids[i] = id.String()
	}

	t := program.NewKeyValueTable()

	t.AddRow("URI", order.URI)
	t.AddRow("status", string(order.Object.Status))
	t.AddRow("identifiers", strings.Join(ids, "\n"))
	t.AddRow("authorizations", strings.Join(order.Object.Authorizations, "\n"))
	t.AddRow("finalize URI", order.Object.Finalize)

	t.Print()
}

func encodeDomainName(name string) string {
	encodedName, err := idna.ToASCII(name)
	if err != nil {
		p.Fatal("invalid domain name %q: %v", name, err)
	}

	return encodedName
}
