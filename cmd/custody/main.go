package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/staykeeper/custody/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	authToken string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "custody",
	Short: "StayKeeper custody CLI",
	Long: `custody is the command-line interface for the StayKeeper evidence
custody service.

It registers evidence, seals chains, compiles bundles, attaches inputs to
disputes and claims, and assembles defense packs and claim dossiers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.custody")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.custody/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "custody service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "service token (or set CUSTODY_TOKEN)")

	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(inputsCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	return client.MustNew(serverURL, client.WithBearerToken(authToken))
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ── evidence ─────────────────────────────────────────────────────────────────

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Manage evidence objects and their custody chains",
}

var (
	evSource    string
	evTitle     string
	evContent   string
	evSnapshot  string
	evObjectKey string
)

var evidenceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new evidence object",
	Example: `  custody evidence create --source manual_note --title "guest note" --content "torn hot tub cover"
  custody evidence create --source json_snapshot --title "booking record" --snapshot '{"booking_id":"b-1"}'
  custody evidence create --source file_r2 --title "damage report" --object-key claims/2026/report.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		req := client.CreateEvidenceRequest{
			SourceType: evSource,
			Title:      evTitle,
			Content:    evContent,
			ObjectKey:  evObjectKey,
		}
		if evSnapshot != "" {
			req.Snapshot = json.RawMessage(evSnapshot)
		}

		ev, err := newClient().CreateEvidence(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("created %s\n  content_sha256: %s\n  status: %s\n", ev.ID, ev.ContentSHA256, ev.ChainStatus)
		return nil
	},
}

var evidenceShowCmd = &cobra.Command{
	Use:   "show <evidence-id>",
	Short: "Show an evidence object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		ev, err := newClient().GetEvidence(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(ev)
	},
}

var (
	eventType      string
	eventPayload   string
	eventRequestID string
)

var evidenceAnnotateCmd = &cobra.Command{
	Use:   "annotate <evidence-id>",
	Short: "Append a custody event to an evidence object's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		ev, err := newClient().AppendEvent(ctx, args[0], eventType, json.RawMessage(eventPayload), eventRequestID)
		if err != nil {
			return err
		}
		fmt.Printf("appended event %d (%s)\n  hash: %s\n", ev.Seq, ev.EventType, ev.Hash)
		return nil
	},
}

var evidenceChainCmd = &cobra.Command{
	Use:   "chain <evidence-id>",
	Short: "List an evidence object's custody chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		events, err := newClient().ListEvents(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tHASH\tPREV\tAT")
		for _, e := range events {
			prev := ""
			if e.PrevHash != nil {
				prev = short(*e.PrevHash)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Seq, e.EventType, short(e.Hash), prev, e.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var evidenceSealCmd = &cobra.Command{
	Use:   "seal <evidence-id>",
	Short: "Seal an evidence object for downstream use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		ev, err := newClient().SealEvidence(ctx, args[0])
		if err != nil {
			return err
		}
		when := ""
		if ev.SealedAt != nil {
			when = " at " + ev.SealedAt.Format(time.RFC3339)
		}
		fmt.Printf("sealed %s%s\n", ev.ID, when)
		return nil
	},
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify <evidence-id>",
	Short: "Walk the custody chain and report integrity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		report, err := newClient().VerifyChain(ctx, args[0])
		if err != nil {
			return err
		}
		if report.Valid {
			fmt.Printf("chain OK (%d events)\n", len(report.EventChain))
			return nil
		}
		fmt.Printf("chain BROKEN at event index %d\n", *report.FirstFailureIndex)
		os.Exit(1)
		return nil
	},
}

func init() {
	evidenceCreateCmd.Flags().StringVar(&evSource, "source", "manual_note", "Source type: manual_note, file_r2, url_snapshot, json_snapshot")
	evidenceCreateCmd.Flags().StringVar(&evTitle, "title", "", "Evidence title")
	evidenceCreateCmd.Flags().StringVar(&evContent, "content", "", "Inline text content (manual_note)")
	evidenceCreateCmd.Flags().StringVar(&evSnapshot, "snapshot", "", "Inline JSON payload (json_snapshot)")
	evidenceCreateCmd.Flags().StringVar(&evObjectKey, "object-key", "", "Object storage key (file_r2, url_snapshot)")
	_ = evidenceCreateCmd.MarkFlagRequired("title")

	evidenceAnnotateCmd.Flags().StringVar(&eventType, "type", "annotated", "Event type")
	evidenceAnnotateCmd.Flags().StringVar(&eventPayload, "payload", "{}", "Event payload (JSON)")
	evidenceAnnotateCmd.Flags().StringVar(&eventRequestID, "request-id", "", "Idempotency key for safe retries")

	evidenceCmd.AddCommand(evidenceCreateCmd)
	evidenceCmd.AddCommand(evidenceAnnotateCmd)
	evidenceCmd.AddCommand(evidenceChainCmd)
	evidenceCmd.AddCommand(evidenceShowCmd)
	evidenceCmd.AddCommand(evidenceSealCmd)
	evidenceCmd.AddCommand(evidenceVerifyCmd)
}

// ── bundle ───────────────────────────────────────────────────────────────────

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage evidence bundles",
}

var (
	bundleType  string
	bundleTitle string
	itemOrder   int
	itemLabel   string
)

var bundleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an open bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		b, err := newClient().CreateBundle(ctx, bundleType, bundleTitle)
		if err != nil {
			return err
		}
		fmt.Printf("created bundle %s (%s)\n", b.ID, b.Status)
		return nil
	},
}

var bundleAddCmd = &cobra.Command{
	Use:   "add <bundle-id> <evidence-id>",
	Short: "Add an evidence object to an open bundle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient().AddBundleItem(ctx, args[0], args[1], itemOrder, itemLabel); err != nil {
			return err
		}
		fmt.Println("item added")
		return nil
	},
}

var bundleSealCmd = &cobra.Command{
	Use:   "seal <bundle-id>",
	Short: "Compile the manifest and seal the bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		b, err := newClient().SealBundle(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("sealed bundle %s\n  manifest_sha256: %s\n", b.ID, deref(b.ManifestSHA256))
		return nil
	},
}

func init() {
	bundleCreateCmd.Flags().StringVar(&bundleType, "type", "damage_claim", "Bundle type")
	bundleCreateCmd.Flags().StringVar(&bundleTitle, "title", "", "Bundle title")
	_ = bundleCreateCmd.MarkFlagRequired("title")
	bundleAddCmd.Flags().IntVar(&itemOrder, "order", 0, "Sort order within the bundle")
	bundleAddCmd.Flags().StringVar(&itemLabel, "label", "", "Item label")

	bundleCmd.AddCommand(bundleCreateCmd)
	bundleCmd.AddCommand(bundleAddCmd)
	bundleCmd.AddCommand(bundleSealCmd)
}

// ── attach / inputs ──────────────────────────────────────────────────────────

var (
	attachEvidence string
	attachBundle   string
	attachLabel    string
)

var attachCmd = &cobra.Command{
	Use:   "attach <parent-id>",
	Short: "Attach a sealed evidence object or bundle to a dispute/claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		req := client.AttachRequest{Label: attachLabel}
		if attachEvidence != "" {
			req.EvidenceObjectID = &attachEvidence
		}
		if attachBundle != "" {
			req.BundleID = &attachBundle
		}

		rec, err := newClient().Attach(ctx, args[0], req)
		if err != nil {
			return err
		}
		fmt.Printf("attached %s to parent %s\n", rec.ID, rec.ParentID)
		return nil
	},
}

var inputsCmd = &cobra.Command{
	Use:   "inputs <parent-id>",
	Short: "List a parent's attached inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		inputs, err := newClient().ListInputs(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTARGET\tHASH\tLABEL")
		for _, in := range inputs {
			target, hash := "", ""
			switch {
			case in.EvidenceObjectID != nil:
				target = "evidence " + *in.EvidenceObjectID
				hash = deref(in.CopiedSHA256)
			case in.BundleID != nil:
				target = "bundle " + *in.BundleID
				hash = deref(in.BundleManifestSHA256)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", in.ID, target, short(hash), in.Label)
		}
		return w.Flush()
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachEvidence, "evidence", "", "Evidence object id to attach")
	attachCmd.Flags().StringVar(&attachBundle, "bundle", "", "Bundle id to attach")
	attachCmd.Flags().StringVar(&attachLabel, "label", "", "Attachment label")
}

// ── assemble / artifacts / export ────────────────────────────────────────────

var (
	assembleKind      string
	assembleRequestID string
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <parent-id>",
	Short: "Assemble the next artifact version from a parent's sealed inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		art, err := newClient().Assemble(ctx, args[0], assembleKind, assembleRequestID)
		if err != nil {
			return err
		}
		fmt.Printf("assembled %s v%d\n  body_sha256: %s\n", art.ID, art.Version, art.BodySHA256)
		return nil
	},
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts <parent-id>",
	Short: "List a parent's artifact versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		artifacts, err := newClient().ListArtifacts(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tVERSION\tSTATUS\tBODY SHA-256")
		for _, a := range artifacts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", a.ID, a.Kind, a.Version, a.Status, short(a.BodySHA256))
		}
		return w.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <artifact-id>",
	Short: "Mark an assembled artifact as exported",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		art, err := newClient().ExportArtifact(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("exported %s v%d\n", art.ID, art.Version)
		return nil
	},
}

func init() {
	assembleCmd.Flags().StringVar(&assembleKind, "kind", "claim_dossier", "Artifact kind: defense_pack or claim_dossier")
	assembleCmd.Flags().StringVar(&assembleRequestID, "request-id", "", "Idempotency key for safe retries")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("custody", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12] + "…"
	}
	return hash
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
