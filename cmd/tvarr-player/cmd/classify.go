package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvarr-player/internal/stream"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <stream-url>...",
	Short: "Show which adapter each stream URL would use",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		classifier := stream.NewClassifier(stream.Options{
			ProxyPathPrefix:      viper.GetString("player.proxy_path_prefix"),
			RecordingPathMarkers: viper.GetStringSlice("player.recording_path_markers"),
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "URL\tKIND\tADAPTER\tREASONS")
		for _, raw := range args {
			res := classifier.ClassifyURL(raw)
			kind := res.Kind.String()
			if res.Ambiguous {
				kind += " (ambiguous)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", raw, kind, adapterName(res.Kind), strings.Join(res.Reasons, "; "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func adapterName(k stream.Kind) string {
	switch {
	case k == stream.AdaptiveManifest:
		return "manifest"
	case k.UsesTransportAdapter():
		return "transport"
	default:
		return "native"
	}
}
