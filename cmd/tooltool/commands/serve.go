package commands

import (
	"fmt"
	"strings"

	"tooltool/pkg/grooming"
	"tooltool/pkg/queue"
	"tooltool/pkg/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Runs the tooltool HTTP API. Without a Redis queue configured, upload-complete
notifications are handled by a worker running inside this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.Settings.Server.Addr

		// memory 存储：签名 URL 指回本进程
		if a.Cloud != nil && a.Settings.Storage.MemoryURL == "" {
			a.Cloud.SetBaseURL(localURL(addr) + server.ObjectsPrefix)
		}
		fmt.Printf("✅ tooltool initialized (regions: %s)\n", strings.Join(a.Regions.Names(), ", "))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.New(a).ListenAndServe(ctx, addr)
		})

		// 进程内队列只能由本进程消费
		if _, ok := a.Queue.(*queue.Local); ok {
			g.Go(func() error {
				return grooming.New(a).RunWorker(ctx, a.Queue)
			})
		}

		err = g.Wait()
		fmt.Println("👋 Server stopped.")
		return err
	},
}

// localURL 把监听地址转成本机可访问的 URL
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	if err := viperBindLocal(serveCmd, "server.addr", "addr"); err != nil {
		panic(err)
	}
}
