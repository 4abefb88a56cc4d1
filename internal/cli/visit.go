package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/applier"
	"github.com/headline-goat/splitpage/internal/broadcast"
	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/pageload"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/tracker"
	"github.com/headline-goat/splitpage/internal/transport"
)

var visitFlags struct {
	url          string
	userAgent    string
	referrer     string
	width        int
	languages    []string
	timezone     string
	noCookies    bool
	interactions []string
}

var visitCmd = &cobra.Command{
	Use:   "visit <visitor>",
	Short: "Simulate a page load for a visitor",
	Long: `Run the split testing engine for one page load of a visitor.

The visitor's cookies are loaded before the page load and saved after it,
so repeated visits behave like a returning browser. Tracked events are
sent to the collector configured in the settings file.

Examples:
  splitpage visit alice --url https://example.com/pricing
  splitpage visit bob --url https://example.com/ --interact click=#buy@120,340 --interact scroll=80`,
	Args: cobra.ExactArgs(1),
	RunE: runVisit,
}

func init() {
	f := visitCmd.Flags()
	f.StringVar(&visitFlags.url, "url", "", "page URL")
	f.StringVar(&visitFlags.userAgent, "ua", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36", "user agent")
	f.StringVar(&visitFlags.referrer, "referrer", "", "referrer URL")
	f.IntVar(&visitFlags.width, "width", 1280, "window width in pixels")
	f.StringSliceVar(&visitFlags.languages, "lang", []string{"en-US"}, "preferred languages")
	f.StringVar(&visitFlags.timezone, "tz", "UTC", "visitor time zone")
	f.BoolVar(&visitFlags.noCookies, "no-cookies", false, "simulate a browser with cookies disabled")
	f.StringArrayVar(&visitFlags.interactions, "interact", nil, "interaction after load (click=#id[@x,y], link=, submit=, video=, cart=, scroll=)")
	visitCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(visitCmd)
}

func runVisit(cmd *cobra.Command, args []string) error {
	visitor := args[0]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pageURL, err := url.Parse(visitFlags.url)
	if err != nil || pageURL.Host == "" {
		return fmt.Errorf("invalid --url %q", visitFlags.url)
	}
	loc, err := time.LoadLocation(visitFlags.timezone)
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}
	interactions := make([]page.Interaction, 0, len(visitFlags.interactions))
	for _, raw := range visitFlags.interactions {
		i, err := parseInteraction(raw)
		if err != nil {
			return err
		}
		interactions = append(interactions, i)
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	env := page.Environment{
		URL:            pageURL,
		Referrer:       visitFlags.referrer,
		UserAgent:      visitFlags.userAgent,
		WindowWidth:    visitFlags.width,
		Languages:      visitFlags.languages,
		CookiesEnabled: !visitFlags.noCookies,
		Location:       loc,
	}

	return withJars(func(jars clientstore.Backend) error {
		jar, err := jars.Load(ctx, visitor)
		if err != nil {
			return fmt.Errorf("failed to load cookies: %w", err)
		}

		out := cmd.OutOrStdout()
		if err := simulate(ctx, out, log, s, env, jar, interactions); err != nil {
			return err
		}

		if visitFlags.noCookies {
			return nil
		}
		if err := jars.Save(ctx, visitor, jar); err != nil {
			return fmt.Errorf("failed to save cookies: %w", err)
		}
		return nil
	})
}

// simulate runs one page load and prints what happened to out.
func simulate(ctx context.Context, out io.Writer, log *zap.SugaredLogger, s *settings.Settings,
	env page.Environment, jar *clientstore.MemoryJar, interactions []page.Interaction,
) error {
	m := metrics.NewRecorder()
	injector := applier.NewRecorder()
	tr := transport.New(s.API, transport.WithMetrics(m), transport.WithLogger(log))

	bc := broadcast.NewMemoryBroadcaster[tracker.Message](256)
	defer bc.Close()
	subCtx, stopSub := context.WithCancel(ctx)
	sub := bc.Subscribe(subCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range sub.Receive() {
			line, err := json.Marshal(msg.Data.Value)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "event %s\n", line)
		}
	}()

	opts := []pageload.Option{
		pageload.WithBroadcaster(bc),
		pageload.WithMetrics(m),
		pageload.WithLogger(log),
	}
	if s.API.URL != "" {
		opts = append(opts, pageload.WithGeoFetcher(geo.NewHTTPFetcher(s.API.URL, nil)))
	}

	p := page.Init(env, jar)
	res, err := pageload.NewRunner(injector, tr, opts...).Run(ctx, p, s)
	if err != nil {
		log.Debugw("page load failed", "error", err)
	}
	p.Head.Reach()
	p.DOM.Reach()

	if res.Session != nil && !res.Redirected {
		for _, i := range interactions {
			p.Dispatch(ctx, i)
		}
	}

	res.Wait()
	tr.Wait()
	stopSub()
	wg.Wait()

	printResult(out, res, injector.Actions())
	return nil
}

func printResult(out io.Writer, res *pageload.Result, actions []string) {
	switch {
	case res.Reloaded:
		fmt.Fprintln(out, "cookie check failed: page reloaded without testing")
	case res.Session == nil:
		fmt.Fprintln(out, "visitor not testing: original content shown")
	default:
		alternatives := res.Session.Alternatives()
		ids := make([]int, 0, len(alternatives))
		for id := range alternatives {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			fmt.Fprintf(out, "experiment %d: alternative %d, segments %v\n", id, alternatives[id], res.Segments[id])
		}
		if res.Session.Staging {
			fmt.Fprintln(out, "staging: events were not sent")
		}
		fmt.Fprintf(out, "listeners: %d\n", res.Listeners)
	}

	for _, a := range actions {
		fmt.Fprintf(out, "page: %s\n", a)
	}
}
