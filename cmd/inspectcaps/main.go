package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ncecere/open_image_gateway/internal/adapters/fal"
	"github.com/ncecere/open_image_gateway/internal/capability"
	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to gateway.yaml")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	registry, err := catalog.NewRegistry(cfg.ModelCatalog, cfg.Images.DefaultModel)
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}

	backend := fal.New(fal.Options{
		QueueBaseURL:     cfg.Backend.QueueBaseURL,
		SchemaURL:        cfg.Backend.SchemaURL,
		CredentialScheme: cfg.Backend.CredentialScheme,
		Timeout:          cfg.Backend.HTTPTimeout,
	})
	defer backend.Close()
	fetcher := capability.NewSchemaFetcher(backend, backend.QueueBaseURL())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tENDPOINT\tDISCRETE\tASPECT\tSIZE_OBJECT\tERROR")
	failed := 0
	for _, m := range registry.Models() {
		c, err := fetcher.Fetch(ctx, m.Endpoint)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%v\n", m.Alias, m.Endpoint, err)
			continue
		}
		sizeObject := "no"
		if c.UsesSizeObject {
			sizeObject = c.SizeField
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t\n", m.Alias, m.Endpoint, c.SupportsDiscreteSize, c.SupportsAspectRatio, sizeObject)
	}
	_ = w.Flush()
	if failed > 0 {
		os.Exit(1)
	}
}
