package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/persistence"
	"github.com/tcriess/geonote-chat/providers"
	"github.com/tcriess/geonote-chat/types"
)

// A very simple CLI tool for the administration of the geonote-chat image cache.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal", "error", err)
		return
	}
	fmt.Println(string(b))
}

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	var persister persistence.Persister
	openPersister := func(cmd *cobra.Command, args []string) error {
		var err error
		persister, err = persistence.NewPersister(globalConfig)
		if err != nil {
			return err
		}
		if persister == nil {
			return fmt.Errorf("no persistence configured")
		}
		return nil
	}
	defer func() {
		if persister != nil {
			persister.Close()
		}
	}()

	var cmdImages = &cobra.Command{
		Use:               "images",
		Short:             "Manage cached images",
		Long:              `images lists, shows, sets or deletes the persisted prompt -> image records.`,
		PersistentPreRunE: openPersister,
		Args:              cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Images: " + strings.Join(args, " "))
		},
	}
	var cmdImagesList = &cobra.Command{
		Use:   "list",
		Short: "List images",
		Long:  `list prints all persisted images, newest first.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			images, err := persister.GetImages()
			if err != nil {
				globals.AppLogger.Error("could not get images", "error", err)
				return
			}
			printJSON(images)
		},
	}
	var cmdImagesShow = &cobra.Command{
		Use:   "show [prompt]",
		Short: "Show image",
		Long:  `show prints the image generated for the given prompt. Use "\n" to separate the lines of a group prompt.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			image := types.Image{Prompt: unescape(args[0])}
			err := persister.GetImage(&image)
			if err != nil {
				globals.AppLogger.Error("could not get image", "error", err)
				return
			}
			printJSON(image)
		},
	}
	var cmdImagesDelete = &cobra.Command{
		Use:   "delete [prompt]",
		Short: "Delete image",
		Long:  `delete removes the image generated for the given prompt, it is generated again on the next request.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			image := types.Image{Prompt: unescape(args[0])}
			err := persister.DeleteImage(&image)
			if err != nil {
				globals.AppLogger.Error("could not delete image", "error", err)
				return
			}
		},
	}
	var cmdImagesSet = &cobra.Command{
		Use:   "set [image definition]",
		Short: "Set image",
		Long:  `set creates or updates an image record. If the definition is "-", the definition is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			image := types.Image{}
			err := dec.Decode(&image)
			if err != nil {
				globals.AppLogger.Error("could not decode image", "error", err)
				return
			}
			if image.Prompt == "" {
				globals.AppLogger.Error("no prompt")
				return
			}
			if image.CreatedAt.IsZero() {
				image.CreatedAt = time.Now().UTC()
			}
			err = persister.StoreImage(image)
			if err != nil {
				globals.AppLogger.Error("could not store image", "error", err)
				return
			}
		},
	}
	var cmdTop = &cobra.Command{
		Use:   "top",
		Short: "Show top images",
		Long:  `top prints the best rated images as reported by the scoring service.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			scorer, err := providers.NewScoreProvider(globalConfig.ProvidersConfig)
			if err != nil {
				globals.AppLogger.Error("could not create score provider", "error", err)
				return
			}
			top, err := scorer.Top(context.Background())
			if err != nil {
				globals.AppLogger.Error("could not get top", "error", err)
				return
			}
			printJSON(top)
		},
	}
	var rootCmd = &cobra.Command{Use: "geonote-admin"}
	rootCmd.AddCommand(cmdImages, cmdTop)
	cmdImages.AddCommand(cmdImagesList, cmdImagesShow, cmdImagesDelete, cmdImagesSet)
	rootCmd.SetArgs(pflag.Args())
	rootCmd.Execute()
}

// unescape turns a literal "\n" into a line break, group prompts consist of several lines.
func unescape(prompt string) string {
	return strings.ReplaceAll(prompt, `\n`, "\n")
}
