package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/conserje/internal/delivery"
	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/types"
)

var chatSession string

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "console:local", "conversation key")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the intake engine from the terminal",
	Long: `Runs the intake engine against a local console conversation.
Every destination is replaced by the log handler, so finalized incidents
are written to the log instead of being sent.

Commands: /foto <path> [text], /nuevo, /estado, /salir`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logHandler := delivery.LogHandler(logger)
	for _, prefix := range []string{"", delivery.PrefixSNS, delivery.PrefixEmail} {
		a.registry.Register(prefix, logHandler)
	}

	gw := a.gateway
	gw.Start(ctx)
	defer gw.Stop()

	key := types.SessionKey(chatSession)
	out := cmd.OutOrStdout()
	reply := gateway.WithReply(func(_ context.Context, text string) error {
		fmt.Fprintf(out, "conserje> %s\n", text)
		return nil
	})

	// submit enqueues one event and blocks until its turn is done.
	submit := func(send func(opts ...gateway.RunOption) error) error {
		done := make(chan error, 1)
		if err := send(reply, gateway.WithOnDone(func(err error) { done <- err })); err != nil {
			return err
		}
		return <-done
	}

	fmt.Fprintf(out, "Conversación %s. Escribe /salir para terminar.\n", key)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "tú> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/salir" || line == "/exit":
			return nil
		case line == "/nuevo" || line == "/reset":
			err = submit(func(opts ...gateway.RunOption) error {
				return gw.Reset(ctx, key, "console", opts...)
			})
		case line == "/estado":
			sess, loadErr := a.sessions.Load(ctx, key)
			if loadErr != nil {
				err = loadErr
				break
			}
			fmt.Fprintln(out, intake.RenderStatus(sess, a.areas))
		case strings.HasPrefix(line, "/foto "):
			path, text, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "/foto ")), " ")
			img, readErr := readImage(path)
			if readErr != nil {
				fmt.Fprintf(out, "No se pudo leer la foto: %v\n", readErr)
				continue
			}
			err = submit(func(opts ...gateway.RunOption) error {
				return gw.HandleInbound(ctx, &types.InboundEvent{
					Source:     "console",
					SessionKey: key,
					UserID:     "console",
					Text:       text,
					Images:     []types.Image{img},
				}, opts...)
			})
		default:
			err = submit(func(opts ...gateway.RunOption) error {
				return gw.HandleInbound(ctx, &types.InboundEvent{
					Source:     "console",
					SessionKey: key,
					UserID:     "console",
					Text:       line,
				}, opts...)
			})
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func readImage(path string) (types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Image{}, err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return types.Image{}, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return types.Image{Data: data, MimeType: mime}, nil
}
