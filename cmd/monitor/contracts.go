package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainmonitor/internal/config"
	"chainmonitor/internal/registry"
)

func runContracts(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Registry == "" {
		return fmt.Errorf("registry path is required")
	}

	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return err
	}
	logger.Debug("registry loaded", zap.Int("contracts", reg.Len()))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tADDRESS\tEVENT\tTOPIC0\tCOUNTER\tENUMS")
	for _, contract := range reg.Contracts() {
		for _, schema := range sortedSchemas(contract) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				contract.Name,
				contract.Address.Hex(),
				schema.EventName,
				schema.Topic.Hex(),
				dash(string(schema.Counter)),
				dash(enumFields(schema)),
			)
		}
		for _, source := range contract.Refresh {
			fmt.Fprintf(w, "%s\t%s\t%s()\t-\t%s\t-\n",
				contract.Name,
				contract.Address.Hex(),
				source.Method,
				source.Counter,
			)
		}
	}
	return w.Flush()
}

func sortedSchemas(contract *registry.TrackedContract) []*registry.EventSchema {
	out := make([]*registry.EventSchema, 0, len(contract.Events))
	for _, schema := range contract.Events {
		out = append(out, schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventName < out[j].EventName })
	return out
}

func enumFields(schema *registry.EventSchema) string {
	names := make([]string, 0, len(schema.EnumLookups))
	for name := range schema.EnumLookups {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
