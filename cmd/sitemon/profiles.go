package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/site_mon/internal/bridge"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

const requestTimeout = 10 * time.Second

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage blocking profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Long:  `Lists profiles in their canonical order. --filter takes a glob, e.g. 'work*'.`,
	Args:  cobra.NoArgs,
	RunE:  runProfilesList,
}

var profilesExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write all profiles to a YAML file ('-' for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesExport,
}

var profilesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Add or replace profiles from a YAML file ('-' for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesImport,
}

var profilesEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Activate a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd.Context(), args[0], true)
	},
}

var profilesDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Deactivate a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd.Context(), args[0], false)
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage the sites of a profile",
}

var sitesAddCmd = &cobra.Command{
	Use:   "add PROFILE URL",
	Short: "Add a site pattern to a profile",
	Long: `Adds a site pattern to a profile. By default URL is matched as a substring.
--domain reduces it to its registrable domain (news.bbc.co.uk -> bbc.co.uk);
--regex treats it as a regular expression.`,
	Args: cobra.ExactArgs(2),
	RunE: runSitesAdd,
}

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Show whether the active profiles block a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var (
	listFilter string
	siteRegex  bool
	siteDomain bool
)

func init() {
	profilesListCmd.Flags().StringVar(&listFilter, "filter", "", "only show profiles whose name matches this glob")
	sitesAddCmd.Flags().BoolVar(&siteRegex, "regex", false, "treat URL as a regular expression")
	sitesAddCmd.Flags().BoolVar(&siteDomain, "domain", false, "match the URL's registrable domain")
	sitesAddCmd.MarkFlagsMutuallyExclusive("regex", "domain")

	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesExportCmd)
	profilesCmd.AddCommand(profilesImportCmd)
	profilesCmd.AddCommand(profilesEnableCmd)
	profilesCmd.AddCommand(profilesDisableCmd)
	sitesCmd.AddCommand(sitesAddCmd)

	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(checkCmd)
}

// daemonAddr prefers the address the running daemon registered.
func daemonAddr() string {
	registry := infra.NewFileRegistry(cfg.DataDir)
	if info, err := daemon.RunningDaemon(registry, infra.NewProcessManager()); err == nil && info.ListenAddr != "" {
		return info.ListenAddr
	}
	return cfg.ListenAddr
}

// withClient connects to the daemon for the duration of fn.
func withClient(ctx context.Context, fn func(c *bridge.Client) error) error {
	c, err := bridge.Dial(ctx, bridge.ClientConfig{Addr: daemonAddr()}, cliLogger())
	if err != nil {
		return fmt.Errorf("%w (is the daemon running? try 'sitemon start')", err)
	}
	defer c.Close()
	return fn(c)
}

func fetchProfiles(ctx context.Context, c *bridge.Client) ([]*domain.Profile, error) {
	var profiles []*domain.Profile
	if err := c.Call(ctx, domain.ActionGetProfiles, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func findProfile(profiles []*domain.Profile, name string) (*domain.Profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, domain.NotFound(name)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	var filter glob.Glob
	if listFilter != "" {
		g, err := glob.Compile(listFilter)
		if err != nil {
			return fmt.Errorf("invalid filter %q: %w", listFilter, err)
		}
		filter = g
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return withClient(ctx, func(c *bridge.Client) error {
		profiles, err := fetchProfiles(ctx, c)
		if err != nil {
			return err
		}
		printProfiles(os.Stdout, profiles, filter)
		return nil
	})
}

func printProfiles(w io.Writer, profiles []*domain.Profile, filter glob.Glob) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACTIVE\tMODE\tSITES\tSCHEDULE")
	for _, p := range profiles {
		if filter != nil && !filter.Match(p.Name) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n",
			p.Name, p.Options.IsActive, p.Options.BlockMode, len(p.Sites), describeSchedule(p.Options.Schedule))
	}
	_ = tw.Flush()
}

func describeSchedule(s domain.Schedule) string {
	if len(s.Events) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(s.Events))
	for _, ev := range s.Events {
		parts = append(parts, fmt.Sprintf("%s@%s", strings.ToLower(ev.EventType.String()), ev.TimeOfDay))
	}
	out := strings.Join(parts, ",")
	if !s.IsEnabled {
		out += " (off)"
	}
	return out
}

func runProfilesExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return withClient(ctx, func(c *bridge.Client) error {
		profiles, err := fetchProfiles(ctx, c)
		if err != nil {
			return err
		}
		if args[0] == "-" {
			return infra.WriteProfilesYAML(os.Stdout, profiles)
		}
		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if err := infra.WriteProfilesYAML(f, profiles); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Exported %d profiles to %s\n", len(profiles), args[0])
		return nil
	})
}

func runProfilesImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	imported, err := infra.ReadProfilesYAML(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	existing, err := loadProfiles(cmd.Context())
	if err != nil {
		return err
	}
	// Sit out every challenge before touching anything.
	for _, p := range imported {
		if current, err := findProfile(existing, p.Name); err == nil {
			if err := challengeWait.gate(cmd.Context(), current, p); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return withClient(ctx, func(c *bridge.Client) error {
		var added, replaced int
		for _, p := range imported {
			if _, err := findProfile(existing, p.Name); err == nil {
				body := domain.UpdateProfileBody{ProfileName: p.Name, Profile: p}
				if err := c.Call(ctx, domain.ActionUpdateProfile, body, nil); err != nil {
					return fmt.Errorf("profile %q: %w", p.Name, err)
				}
				replaced++
				continue
			}
			if err := c.Call(ctx, domain.ActionAddProfile, p, nil); err != nil {
				return fmt.Errorf("profile %q: %w", p.Name, err)
			}
			added++
		}
		fmt.Printf("Imported %d profiles (%d added, %d replaced)\n", added+replaced, added, replaced)
		return nil
	})
}

// loadProfiles fetches the profile list over a short-lived connection.
func loadProfiles(ctx context.Context) ([]*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	var profiles []*domain.Profile
	err := withClient(ctx, func(c *bridge.Client) error {
		var err error
		profiles, err = fetchProfiles(ctx, c)
		return err
	})
	return profiles, err
}

func setActive(ctx context.Context, name string, active bool) error {
	profiles, err := loadProfiles(ctx)
	if err != nil {
		return err
	}
	current, err := findProfile(profiles, name)
	if err != nil {
		return err
	}
	next := current.Clone()
	next.Options.IsActive = active
	if err := challengeWait.gate(ctx, current, next); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	err = withClient(callCtx, func(c *bridge.Client) error {
		body := domain.UpdateProfileBody{ProfileName: name, Profile: next}
		return c.Call(callCtx, domain.ActionUpdateProfile, body, nil)
	})
	if err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("Profile %q %s\n", name, state)
	return nil
}

func runSitesAdd(cmd *cobra.Command, args []string) error {
	name, raw := args[0], args[1]
	site := domain.Site{Pattern: strings.TrimSpace(raw), UseRegex: siteRegex, CreatedAt: time.Now()}
	if siteDomain {
		pattern, err := policy.PatternFromURL(raw)
		if err != nil {
			return err
		}
		site.Pattern = pattern
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return withClient(ctx, func(c *bridge.Client) error {
		profiles, err := fetchProfiles(ctx, c)
		if err != nil {
			return err
		}
		p, err := findProfile(profiles, name)
		if err != nil {
			return err
		}
		for _, s := range p.Sites {
			if s.Pattern == site.Pattern && s.UseRegex == site.UseRegex {
				fmt.Printf("%q already has site %q\n", name, site.Pattern)
				return nil
			}
		}
		p.Sites = append(p.Sites, site)
		body := domain.UpdateProfileBody{ProfileName: name, Profile: p}
		if err := c.Call(ctx, domain.ActionUpdateProfile, body, nil); err != nil {
			return err
		}
		fmt.Printf("Added %q to %q\n", site.Pattern, name)
		return nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return withClient(ctx, func(c *bridge.Client) error {
		var d domain.Decision
		if err := c.Call(ctx, domain.ActionCheckURL, args[0], &d); err != nil {
			return err
		}
		switch {
		case d.Blocked && d.Matched:
			fmt.Printf("BLOCKED by %q (pattern %q)\n", d.Profile, d.Pattern)
		case d.Blocked:
			fmt.Println("BLOCKED (not on the allow list)")
		case d.Matched:
			fmt.Printf("ALLOWED by %q (pattern %q)\n", d.Profile, d.Pattern)
		default:
			fmt.Println("ALLOWED")
		}
		return nil
	})
}
