package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"tooltool/pkg/client"
	"tooltool/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	uploadMessage    string
	uploadVisibility string
	uploadManifest   string
	fetchDir         string
)

func init() {
	// 客户端参数：flag > TOOLTOOL_CLIENT_URL / TOOLTOOL_CLIENT_TOKEN > 配置文件
	for _, cmd := range []*cobra.Command{uploadCmd, fetchCmd} {
		cmd.Flags().String("url", "", "tooltool server URL (client.url)")
		cmd.Flags().String("token", "", "bearer token (client.token)")
		cmd.Flags().String("region", "", "preferred region")
	}

	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "", "batch message (required)")
	uploadCmd.Flags().StringVar(&uploadVisibility, "visibility", string(types.Internal), "visibility level: public or internal")
	uploadCmd.Flags().StringVar(&uploadManifest, "manifest", "", "write a manifest for the uploaded files")
	_ = uploadCmd.MarkFlagRequired("message")

	fetchCmd.Flags().StringVarP(&fetchDir, "dir", "C", ".", "directory to fetch into")
}

// newClient 按 flag 与配置构造客户端
func newClient(cmd *cobra.Command) (*client.Client, string, error) {
	v := viper.GetViper()
	if err := v.BindPFlag("client.url", cmd.Flags().Lookup("url")); err != nil {
		return nil, "", err
	}
	if err := v.BindPFlag("client.token", cmd.Flags().Lookup("token")); err != nil {
		return nil, "", err
	}

	baseURL := v.GetString("client.url")
	if baseURL == "" {
		return nil, "", fmt.Errorf("client.url is not configured (use --url)")
	}
	region, _ := cmd.Flags().GetString("region")
	return client.New(baseURL, v.GetString("client.token")), region, nil
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files as a single batch",
	Long: `Hashes the given files, registers them as one upload batch, PUTs the content the
server does not have yet, and waits until the server has accepted every upload.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, region, err := newClient(cmd)
		if err != nil {
			return err
		}
		vis := types.Visibility(uploadVisibility)
		if !vis.IsValid() {
			return fmt.Errorf("invalid visibility: %s", uploadVisibility)
		}

		fmt.Printf("📦 Uploading %d file(s)...\n", len(args))
		batch, err := c.Upload(cmd.Context(), uploadMessage, vis, args, region)
		if err != nil {
			return err
		}

		skipped := 0
		for name, f := range batch.Files {
			if f.PutURL == "" {
				skipped++
				continue
			}
			fmt.Printf("   ⬆️  %s (%s)\n", name, f.Digest.Short())
		}
		fmt.Printf("✅ Batch %d created by %s (%d already stored)\n", batch.ID, batch.Author, skipped)

		if uploadManifest == "" {
			return nil
		}
		var m client.Manifest
		for _, p := range args {
			rec, err := client.HashFile(p)
			if err != nil {
				return err
			}
			rec.Visibility = vis
			m = append(m, rec)
		}
		if err := m.Save(uploadManifest); err != nil {
			return err
		}
		fmt.Println("📝 Manifest written to", uploadManifest)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [manifest]",
	Short: "Fetch every file listed in a manifest",
	Long: `Downloads the files listed in the manifest (default manifest.tt) and checks each
one against its recorded size and digest. Files already present are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, region, err := newClient(cmd)
		if err != nil {
			return err
		}
		path := "manifest.tt"
		if len(args) == 1 {
			path = args[0]
		}

		m, err := client.LoadManifest(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(fetchDir, 0755); err != nil {
			return err
		}

		fmt.Printf("📦 Fetching %d file(s) into %s...\n", len(m), filepath.Clean(fetchDir))
		if err := c.FetchManifest(cmd.Context(), m, fetchDir, region); err != nil {
			return err
		}
		fmt.Println("✅ All files fetched and verified.")
		return nil
	},
}
