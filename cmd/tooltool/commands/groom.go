package commands

import (
	"fmt"

	"tooltool/pkg/grooming"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume upload-complete notifications and verify the uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Settings.Queue.RedisURL == "" {
			fmt.Println("⚠️  queue.redis_url not set; only notifications from this process would be seen")
		}
		fmt.Println("🚀 Worker started.")
		return grooming.New(a).RunWorker(cmd.Context(), a.Queue)
	},
}

var checkPendingUploadsCmd = &cobra.Command{
	Use:   "check-pending-uploads",
	Short: "Verify every pending upload whose signed URL has expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := grooming.New(a).CheckPendingUploads(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✅ Pending uploads checked.")
		return nil
	},
}

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Copy verified files to every configured region",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := grooming.New(a).Replicate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✅ Replication pass finished.")
		return nil
	},
}

// viperBindLocal 绑定子命令自己的 flag
func viperBindLocal(cmd *cobra.Command, key, flag string) error {
	return viper.BindPFlag(key, cmd.Flags().Lookup(flag))
}
