package main

import (
	"context"
	"crypto/x509"
	"os"
	"path"
	"time"

	"go.n16f.net/acmecore/pkg/acme"
	"go.n16f.net/log"
	"go.n16f.net/program"
)

var (
	p         *program.Program
	directory *acme.Directory
)

func main() {
	// Program
	p = program.NewProgram("acme", "ACME account and order client")

	p.AddOption("s", "server", "uri", acme.LetsEncryptStagingDirectoryURI,
		"the directory URI of the ACME server")
	p.AddOption("d", "data-store", "path", "acme",
		"the path of the data store directory")
	p.AddOption("", "store-type", "type", "file",
		"the type of data store, either \"file\" or \"bolt\"")
	p.AddOption("c", "contact", "email", "",
		"the contact email address identifying the account")
	p.AddOption("", "ca-certificate", "path", "",
		"the path of a PEM CA certificate used to verify the ACME server")

	addDirectoryCommand()
	addAccountCommand()
	addOrderCommands()
	addCertificateCommands()

	p.ParseCommandLine()

	// Data store
	persist := newPersist()

	// Directory
	clientCfg := acme.DirectoryCfg{
		Log:     log.DefaultLogger("acme"),
		Persist: persist,
		URI:     p.OptionValue("server"),
	}

	if caPath := p.OptionValue("ca-certificate"); caPath != "" {
		clientCfg.HTTPClient = acme.NewHTTPClient(loadCACertificatePool(caPath))
	}

	p.Info("using ACME server %q", clientCfg.URI)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	directory, err = acme.NewDirectory(ctx, clientCfg)
	if err != nil {
		p.Fatal("cannot create directory: %v", err)
	}

	// Main
	p.Run()
}

func newPersist() acme.Persist {
	dataStorePath := p.OptionValue("data-store")

	p.Info("using data store at %q", dataStorePath)

	switch storeType := p.OptionValue("store-type"); storeType {
	case "file":
		persist, err := acme.NewFileSystemPersist(dataStorePath)
		if err != nil {
			p.Fatal("cannot create data store: %v", err)
		}

		return persist

	case "bolt":
		if err := os.MkdirAll(dataStorePath, 0700); err != nil {
			p.Fatal("cannot create directory %q: %v", dataStorePath, err)
		}

		persist, err := acme.NewBoltPersist(path.Join(dataStorePath, "acme.db"))
		if err != nil {
			p.Fatal("cannot create data store: %v", err)
		}

		return persist

	default:
		p.Fatal("unknown data store type %q", storeType)
		return nil
	}
}

func loadCACertificatePool(filePath string) *x509.CertPool {
	data, err := os.ReadFile(filePath)
	if err != nil {
		p.Fatal("cannot read %q: %v", filePath, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		p.Fatal("no valid certificate found in %q", filePath)
	}

	return pool
}

func account(ctx context.Context) *acme.Account {
	contact := p.OptionValue("contact")
	if contact == "" {
		p.Fatal("missing contact email address")
	}

	account, err := directory.Account(ctx, contact)
	if err != nil {
		p.Fatal("cannot load account: %v", err)
	}

	return account
}
