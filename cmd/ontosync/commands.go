package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/ontosync/buffer"
	"github.com/c360studio/ontosync/config"
	"github.com/c360studio/ontosync/delta"
	"github.com/c360studio/ontosync/export"
	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/registry/filesource"
	"github.com/c360studio/ontosync/registry/natssource"
	"github.com/c360studio/ontosync/sparql"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

func bootstrapCmd(flags *globalFlags) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Upload the ontology schema until the store reports it present",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			client := newStoreClient(cfg, logger)
			loop := newBootstrapLoop(cfg,
				client.Dataset(cfg.Server.TBoxDataset),
				client.Dataset(cfg.Server.ABoxDataset),
				logger)

			if once {
				phase := loop.Step(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "phase: %s (uploads: %d)\n", phase, loop.UploadCycles())
				return nil
			}

			if err := loop.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema present after %d upload cycle(s)\n", loop.UploadCycles())
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single check/upload step and exit")
	return cmd
}

func bufferCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect or discard buffered transactions",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List buffered transactions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBuffer(cmd.Context(), flags, func(ctx context.Context, buf *buffer.Buffer) error {
				txs, err := buf.Pending(ctx)
				if err != nil {
					return err
				}
				return printTransactions(cmd.OutOrStdout(), txs, asJSON)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	var yes bool
	discard := &cobra.Command{
		Use:   "discard",
		Short: "Delete every buffered transaction without replaying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("discarding drops pending updates permanently; pass --yes to confirm")
			}
			return withBuffer(cmd.Context(), flags, func(ctx context.Context, buf *buffer.Buffer) error {
				n, err := buf.Discard(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discarded %d transaction(s)\n", n)
				return nil
			})
		},
	}
	discard.Flags().BoolVar(&yes, "yes", false, "Confirm the discard")

	cmd.AddCommand(list, discard)
	return cmd
}

// withBuffer opens the configured buffer, connecting to NATS for the kv
// backend, and closes everything after fn returns.
func withBuffer(ctx context.Context, flags *globalFlags, fn func(context.Context, *buffer.Buffer) error) error {
	logger := newLogger(flags.logLevel)
	cfg, err := loadConfig(flags, logger)
	if err != nil {
		return err
	}

	var js jetstream.JetStream
	if cfg.Buffer.Backend == config.BufferKV {
		conn, err := nats.Connect(cfg.Registry.NATSURL, nats.Name(appName))
		if err != nil {
			return wrapNATSError(err, cfg.Registry.NATSURL)
		}
		defer conn.Close()
		if js, err = jetstream.New(conn); err != nil {
			return fmt.Errorf("create JetStream context: %w", err)
		}
	}

	buf, err := openBuffer(ctx, cfg, js, logger)
	if err != nil {
		return err
	}
	defer func() { _ = buf.Close() }()

	return fn(ctx, buf)
}

func printTransactions(w io.Writer, txs []buffer.Transaction, asJSON bool) error {
	if asJSON {
		if txs == nil {
			txs = []buffer.Transaction{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(txs)
	}

	if len(txs) == 0 {
		fmt.Fprintln(w, "buffer is empty")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENQUEUED\tBYTES\tFIRST LINE")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			tx.ID, tx.EnqueuedAt.Format(time.RFC3339), len(tx.Payload), firstStatementLine(tx.Payload))
	}
	return tw.Flush()
}

// firstStatementLine skips PREFIX declarations.
func firstStatementLine(payload string) string {
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "PREFIX") {
			continue
		}
		return line
	}
	return ""
}

func renderCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Print the update expressions for an event or unit file",
		Long: `Render compiles registry input to SPARQL without contacting the store.

A .json file holds one event envelope or an array of them. A .yaml or .yml
file uses the unit file format and renders the full resynchronization of
every unit in it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compiler := delta.NewCompiler(delta.WithRetainHistory(history))

			var changes []rdf.ChangeSet
			switch strings.ToLower(filepath.Ext(args[0])) {
			case ".yaml", ".yml":
				changes, err = compileUnitFile(compiler, data, time.Now())
			default:
				changes, err = compileEvents(compiler, data)
			}
			if err != nil {
				return err
			}
			return renderChangeSets(cmd.OutOrStdout(), sparql.NewBuilder(), changes)
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Render state changes as timestamped observations")
	return cmd
}

func compileEvents(compiler *delta.Compiler, data []byte) ([]rdf.ChangeSet, error) {
	events, err := decodeEvents(data)
	if err != nil {
		return nil, err
	}
	changes := make([]rdf.ChangeSet, 0, len(events))
	for _, event := range events {
		cs, err := compiler.Compile(event)
		if err != nil {
			return nil, fmt.Errorf("compile %s for %s: %w", event.Kind(), event.UnitID(), err)
		}
		changes = append(changes, cs)
	}
	return changes, nil
}

// compileUnitFile mirrors a full resynchronization: identity and relations
// are replaced and current states re-asserted unless history is retained.
func compileUnitFile(compiler *delta.Compiler, data []byte, now time.Time) ([]rdf.ChangeSet, error) {
	var file filesource.File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse unit file: %w", err)
	}

	changes := make([]rdf.ChangeSet, 0, len(file.Units))
	for _, unit := range file.Units {
		cs, err := compiler.CompileReplace(unit)
		if err != nil {
			return nil, err
		}
		if !compiler.RetainsHistory() {
			if states := unit.ServiceStates(now); len(states) > 0 {
				stateCS, err := compiler.CompileStates(unit.ID, states)
				if err != nil {
					return nil, err
				}
				cs = cs.Merge(stateCS)
			}
		}
		changes = append(changes, cs)
	}
	return changes, nil
}

func renderChangeSets(w io.Writer, builder *sparql.Builder, changes []rdf.ChangeSet) error {
	for i, cs := range changes {
		if cs.IsEmpty() {
			continue
		}
		expr, err := builder.Render(cs)
		if err != nil {
			return err
		}
		if len(cs.Deletes) == 0 {
			parsed, err := sparql.ParseInsertData(expr)
			if err != nil {
				return fmt.Errorf("rendered expression does not parse: %w", err)
			}
			if len(parsed) != len(cs.Inserts) {
				return fmt.Errorf("rendered %d triples, parsed back %d", len(cs.Inserts), len(parsed))
			}
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, expr)
	}
	return nil
}

// decodeEvents accepts one envelope or a JSON array of envelopes.
func decodeEvents(data []byte) ([]registry.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no events in input")
	}
	if trimmed[0] != '[' {
		event, err := registry.Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []registry.Event{event}, nil
	}

	var envelopes []registry.Envelope
	if err := json.Unmarshal(trimmed, &envelopes); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	events := make([]registry.Event, 0, len(envelopes))
	for i, env := range envelopes {
		event, err := env.Event()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func exportCmd(flags *globalFlags) *cobra.Command {
	var (
		format  string
		history bool
		upload  bool
	)

	cmd := &cobra.Command{
		Use:   "export <units.yaml>",
		Short: "Serialize the triples asserted for a unit file",
		Long: `Export writes the instance data the synchronizer would assert for every
unit in a unit file, as Turtle or N-Triples. With --upload the Turtle is
posted to the instance dataset instead of printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file filesource.File
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse unit file: %w", err)
			}

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if upload && f != export.FormatTurtle {
				return fmt.Errorf("--upload requires turtle output")
			}

			exporter := export.NewExporter()
			compiler := delta.NewCompiler(delta.WithRetainHistory(history))
			if err := exporter.AddUnits(compiler, file.Units, time.Now()); err != nil {
				return err
			}
			out, err := exporter.Export(f)
			if err != nil {
				return err
			}

			if !upload {
				_, err := io.WriteString(cmd.OutOrStdout(), out)
				return err
			}

			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			abox := newStoreClient(cfg, logger).Dataset(cfg.Server.ABoxDataset)
			if err := abox.Upload(cmd.Context(), []byte(out)); err != nil {
				return fmt.Errorf("upload to %s: %w", abox.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d triple(s) to %s\n", exporter.Len(), abox.Name())
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatTurtle), "Output format (turtle, ntriples)")
	cmd.Flags().BoolVar(&history, "history", false, "Export states as timestamped observations")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload to the instance dataset")
	return cmd
}

func classesCmd(flags *globalFlags) *cobra.Command {
	var instances bool

	cmd := &cobra.Command{
		Use:   "classes <class>",
		Short: "List the transitive subclasses or instances of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			client := newStoreClient(cfg, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.Timeout)
			defer cancel()

			h, err := loadHierarchy(ctx,
				client.Dataset(cfg.Server.TBoxDataset),
				client.Dataset(cfg.Server.ABoxDataset),
				instances)
			if err != nil {
				return err
			}

			class := expandIRI(args[0])
			result := h.Subclasses(class)
			if instances {
				result = h.Instances(class)
			} else {
				sort.Strings(result)
			}
			for _, iri := range result {
				fmt.Fprintln(cmd.OutOrStdout(), compactIRI(iri))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&instances, "instances", false, "List instances of the class and its subclasses")
	return cmd
}

// selecter runs SELECT queries against one dataset.
type selecter interface {
	Select(ctx context.Context, query string) (*sparql.SelectResult, error)
}

// loadHierarchy reads subclass edges from the schema dataset and, when
// withInstances is set, type assertions from the instance dataset.
func loadHierarchy(ctx context.Context, schema, data selecter, withInstances bool) (*rdf.Hierarchy, error) {
	header := sparql.NewBuilder().Header()
	h := rdf.NewHierarchy()

	subs, err := schema.Select(ctx, header+"SELECT ?sub ?super WHERE { ?sub rdfs:subClassOf ?super }")
	if err != nil {
		return nil, fmt.Errorf("query subclasses: %w", err)
	}
	for _, row := range subs.Rows() {
		h.AddSubclass(row["sub"], row["super"])
	}

	if withInstances {
		types, err := data.Select(ctx, header+"SELECT ?instance ?class WHERE { ?instance a ?class }")
		if err != nil {
			return nil, fmt.Errorf("query instances: %w", err)
		}
		for _, row := range types.Rows() {
			h.AddInstance(row["instance"], row["class"])
		}
	}
	return h, nil
}

// expandIRI turns "ont:Light", "rdfs:Class" or a bare local name into a
// full IRI. Full IRIs, with or without angle brackets, pass through.
func expandIRI(name string) string {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "<"), ">")
	if strings.Contains(name, "://") {
		return name
	}
	if prefix, local, ok := strings.Cut(name, ":"); ok {
		if ns, known := ontology.Prefixes()[prefix]; known {
			return ns + local
		}
	}
	return ontology.Namespace + name
}

// compactIRI shortens iri with the longest matching known namespace.
func compactIRI(iri string) string {
	best, bestNS := "", ""
	for prefix, ns := range ontology.Prefixes() {
		if strings.HasPrefix(iri, ns) && len(ns) > len(bestNS) {
			best, bestNS = prefix, ns
		}
	}
	if bestNS == "" {
		return iri
	}
	return best + ":" + strings.TrimPrefix(iri, bestNS)
}

func publishCmd(flags *globalFlags) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish registry events from a JSON file to NATS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			events, err := decodeEvents(data)
			if err != nil {
				return err
			}

			conn, err := nats.Connect(cfg.Registry.NATSURL, nats.Name(appName))
			if err != nil {
				return wrapNATSError(err, cfg.Registry.NATSURL)
			}
			defer conn.Close()

			if scope == "" {
				scope = cfg.Registry.Scope
			}
			pub := natssource.NewPublisher(conn, scope)
			for _, event := range events {
				if err := pub.Publish(event); err != nil {
					return err
				}
			}
			if err := conn.FlushTimeout(5 * time.Second); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d event(s)\n", len(events))
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Subject scope (defaults to registry.scope)")
	return cmd
}
