package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leonunix/eshelper"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/logging"
)

const usage = `usage: eshelper [-config file] [-url engine-url] <command> [flags]

commands:
  search   run a query and print the hits or aggregations
  get      print a document by id
  save     index a document read from -doc or stdin
  update   merge a partial document into an existing one
  incr     increment a counter field
  delete   delete a document by id
`

// errUsage marks command-line mistakes; they exit with status 2.
var errUsage = errors.New("usage error")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run reports its own failures so they are logged before the log file is
// closed.
func run(argv []string, stdout io.Writer) error {
	global := flag.NewFlagSet("eshelper", flag.ContinueOnError)
	configPath := global.String("config", "", "path to configuration file (defaults apply when empty)")
	engineURL := global.String("url", "", "engine URL, overrides the configuration")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := parseFlags(global, argv); err != nil {
		return err
	}

	if global.NArg() < 1 {
		global.Usage()
		return errUsage
	}

	cfg, err := loadConfig(*configPath, *engineURL)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := eshelper.NewFromConfig(cfg)
	cmd, args := global.Arg(0), global.Args()[1:]

	var out json.RawMessage
	switch cmd {
	case "search":
		out, err = runSearch(ctx, client, args)
	case "get":
		out, err = runGet(ctx, client, args)
	case "save":
		out, err = runSave(ctx, client, args)
	case "update":
		out, err = runUpdate(ctx, client, args)
	case "incr":
		out, err = runIncr(ctx, client, args)
	case "delete":
		out, err = runDelete(ctx, client, args)
	default:
		fmt.Fprintf(global.Output(), "unknown command %q\n\n", cmd)
		global.Usage()
		return errUsage
	}
	if errors.Is(err, errUsage) {
		return err
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		return err
	}
	if out != nil {
		if _, err := stdout.Write(append(out, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// parseFlags parses subcommand flags. The flag package has already printed
// the problem and the flag set's usage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func loadConfig(path, engineURL string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if engineURL != "" {
		cfg.Engine.URL = engineURL
	}
	return cfg, nil
}

// listFlag collects comma-separated values across repeated flags.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// maskFlag collects field=replacement pairs.
type maskFlag map[string]string

func (m maskFlag) String() string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (m maskFlag) Set(v string) error {
	field, replacement, ok := strings.Cut(v, "=")
	if !ok || field == "" {
		return fmt.Errorf("mask must be field=replacement, got %q", v)
	}
	m[field] = replacement
	return nil
}

func runSearch(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var (
		indices, highlight, include, exclude listFlag
		masks                                = maskFlag{}
	)
	fs.Var(&indices, "index", "index to search (repeatable or comma-separated; empty searches all)")
	query := fs.String("query", `{"match_all":{}}`, "query tree as JSON")
	from := fs.Int("from", -1, "offset of the first hit")
	size := fs.Int("size", -1, "maximum hits per request")
	sortField := fs.String("sort", "", "sort field")
	order := fs.String("order", "asc", "sort order: asc or desc")
	nestedPath := fs.String("nested-path", "", "nested path for the sort field")
	agg := fs.String("agg", "", "aggregation tree as JSON; prints aggregations instead of hits")
	fs.Var(&highlight, "highlight", "field to highlight (repeatable)")
	fs.Var(masks, "mask", "field=replacement to overwrite in every hit (repeatable)")
	fs.Var(&include, "include", "source field to include (repeatable)")
	fs.Var(&exclude, "exclude", "source field to exclude (repeatable)")
	scroll := fs.String("scroll", "", "scroll keep-alive such as 1m; drains every page")
	one := fs.Bool("one", false, "print only the first hit")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}

	if !json.Valid([]byte(*query)) {
		return nil, fmt.Errorf("-query is not valid JSON")
	}
	sortOrder := eshelper.Asc
	switch strings.ToLower(*order) {
	case "asc":
	case "desc":
		sortOrder = eshelper.Desc
	default:
		return nil, fmt.Errorf("-order must be asc or desc, got %q", *order)
	}

	q := eshelper.NewQuery(json.RawMessage(*query)).
		WithIndices(indices...).
		WithFrom(*from).
		WithSize(*size).
		WithHighlight(highlight...).
		WithMasks(masks).
		WithInclude(include...).
		WithExclude(exclude...).
		WithKeepAlive(*scroll)
	if *sortField != "" {
		q = q.WithNestedSort(*sortField, sortOrder, *nestedPath)
	}
	if *agg != "" {
		if !json.Valid([]byte(*agg)) {
			return nil, fmt.Errorf("-agg is not valid JSON")
		}
		q = q.WithAggregation(json.RawMessage(*agg))
	}

	if *one {
		hit, ok, err := client.FindOne(ctx, q)
		if err != nil {
			return nil, err
		}
		if !ok {
			return json.RawMessage("null"), nil
		}
		return hit, nil
	}

	res, err := client.FindAll(ctx, q)
	if err != nil {
		return nil, err
	}
	slog.Info("search completed", "total", res.Size, "took_ms", res.TookMs)
	return res.Result, nil
}

func runGet(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	index := fs.String("index", "", "index name")
	id := fs.String("id", "", "document id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"index": *index, "id": *id}); err != nil {
		return nil, err
	}

	doc, ok, err := client.FindByID(ctx, *index, *id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document %s/%s not found", *index, *id)
	}
	return doc, nil
}

func runSave(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	index := fs.String("index", "", "index name")
	id := fs.String("id", "", "document id; taken from the identifier field when empty")
	docArg := fs.String("doc", "", "document JSON; read from stdin when empty")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"index": *index}); err != nil {
		return nil, err
	}
	doc, err := readDocument(*docArg)
	if err != nil {
		return nil, err
	}

	var assigned string
	if *id != "" {
		assigned, err = client.SaveWithID(ctx, *index, *id, doc)
	} else {
		assigned, err = client.Save(ctx, *index, doc)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"_index": *index, "_id": assigned})
}

func runUpdate(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	index := fs.String("index", "", "index name")
	id := fs.String("id", "", "document id")
	docArg := fs.String("doc", "", "partial document JSON; read from stdin when empty")
	var ignore listFlag
	fs.Var(&ignore, "ignore", "field to leave untouched (repeatable)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"index": *index, "id": *id}); err != nil {
		return nil, err
	}
	doc, err := readDocument(*docArg)
	if err != nil {
		return nil, err
	}

	updated, ok, err := client.Update(ctx, *index, *id, doc, ignore...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document %s/%s not found", *index, *id)
	}
	return updated, nil
}

func runIncr(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("incr", flag.ContinueOnError)
	index := fs.String("index", "", "index name")
	id := fs.String("id", "", "document id")
	field := fs.String("field", "", "counter field such as views or stats.views")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"index": *index, "id": *id, "field": *field}); err != nil {
		return nil, err
	}

	updated, ok, err := client.IncrementCounter(ctx, *index, *id, *field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document %s/%s not found", *index, *id)
	}
	return updated, nil
}

func runDelete(ctx context.Context, client *eshelper.Client, args []string) (json.RawMessage, error) {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	index := fs.String("index", "", "index name")
	id := fs.String("id", "", "document id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"index": *index, "id": *id}); err != nil {
		return nil, err
	}

	if err := client.DeleteByID(ctx, *index, *id); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"_index": *index, "_id": *id, "result": "deleted"})
}

func required(flags map[string]string) error {
	var errs []error
	for name, v := range flags {
		if v == "" {
			errs = append(errs, fmt.Errorf("-%s is required", name))
		}
	}
	return errors.Join(errs...)
}

func readDocument(arg string) ([]byte, error) {
	doc := []byte(arg)
	if arg == "" {
		var err error
		if doc, err = io.ReadAll(os.Stdin); err != nil {
			return nil, fmt.Errorf("reading document from stdin: %w", err)
		}
	}
	if !json.Valid(doc) {
		return nil, fmt.Errorf("document is not valid JSON")
	}
	return doc, nil
}
