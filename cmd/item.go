package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/service"

	"github.com/fatih/color"
	"github.com/nbutton23/zxcvbn-go"
	"github.com/spf13/cobra"
)

// contentFormatVersion CLI 写入的 content 为原始口令字节
const contentFormatVersion = 1

// weakScore zxcvbn 评分低于此值时提示
const weakScore = 3

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Read and modify items in a share",
}

type itemListFlags struct {
	query   string
	trashed bool
}

func newItemListCmd() *cobra.Command {
	f := new(itemListFlags)
	c := &cobra.Command{
		Use:   "list <share-id>",
		Short: "List items, optionally filtered by a title or note query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(globalFlags)
			if err != nil {
				return err
			}
			defer s.closeWithTimeout()

			opts := service.ListOptions{State: domain.ItemStateActive, Query: f.query}
			if f.trashed {
				opts.State = domain.ItemStateTrashed
			}
			return s.app.ItemService.List(cmd.Context(), args[0], opts, func(items []*domain.DecryptedItem) error {
				if len(items) == 0 {
					fmt.Println(hintMark() + " No items")
					return nil
				}
				failed := 0
				for _, it := range items {
					if it.Err != nil {
						failed++
						fmt.Printf("%s  r%-4d %s\n", it.ID, it.Revision, failMark()+" "+it.Err.Error())
						continue
					}
					fmt.Printf("%s  r%-4d %s  %s\n", it.ID, it.Revision,
						time.Unix(it.ModifyTime, 0).Format("2006-01-02 15:04"), it.Contents.Title)
				}
				if failed > 0 {
					return errSilent
				}
				return nil
			})
		},
	}
	c.Flags().StringVarP(&f.query, "query", "q", "", "match title or note, case-insensitive")
	c.Flags().BoolVar(&f.trashed, "trashed", false, "list trashed items instead")
	return c
}

func newItemShowCmd() *cobra.Command {
	var reveal bool
	c := &cobra.Command{
		Use:   "show <share-id> <item-id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(globalFlags)
			if err != nil {
				return err
			}
			defer s.closeWithTimeout()

			return s.app.ItemService.Get(cmd.Context(), args[0], args[1], func(it *domain.DecryptedItem) error {
				fmt.Printf("%s %s\n", color.CyanString("Title:   "), it.Contents.Title)
				fmt.Printf("%s %d (%s)\n", color.CyanString("Revision:"), it.Revision, it.State)
				if reveal {
					fmt.Printf("%s %s\n", color.CyanString("Secret:  "), string(it.Contents.Content))
				} else {
					fmt.Printf("%s %s\n", color.CyanString("Secret:  "), strings.Repeat("•", min(len(it.Contents.Content), 12)))
				}
				if it.Contents.Note != "" {
					fmt.Printf("%s\n%s\n", color.CyanString("Note:"), it.Contents.Note)
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&reveal, "reveal", false, "print the secret in clear text")
	return c
}

type itemWriteFlags struct {
	title  string
	note   string
	secret bool
	yes    bool
}

// readNewSecret 读取并确认口令，弱口令给出提示
func readNewSecret(title string) ([]byte, error) {
	secret, err := readSecret("Secret: ")
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	strength := zxcvbn.PasswordStrength(string(secret), []string{title})
	if strength.Score < weakScore {
		fmt.Println(color.YellowString("!") + fmt.Sprintf(" Weak secret (score %d/4, cracked in %s)", strength.Score, strength.CrackTimeDisplay))
	}
	return secret, nil
}

func newItemCreateCmd() *cobra.Command {
	f := new(itemWriteFlags)
	c := &cobra.Command{
		Use:   "create <share-id> --title <title>",
		Short: "Create an item; the secret is read from the terminal or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(globalFlags)
			if err != nil {
				return err
			}
			defer s.closeWithTimeout()

			secret, err := readNewSecret(f.title)
			if err != nil {
				return err
			}
			item, err := s.app.ItemService.Create(cmd.Context(), args[0], &domain.ItemContents{
				Title:                f.title,
				Note:                 f.note,
				Content:              secret,
				ContentFormatVersion: contentFormatVersion,
			})
			if err != nil {
				return err
			}
			fmt.Println(okMark() + " Created " + item.ID)
			return nil
		},
	}
	c.Flags().StringVarP(&f.title, "title", "t", "", "item title")
	c.Flags().StringVarP(&f.note, "note", "n", "", "item note")
	_ = c.MarkFlagRequired("title")
	return c
}

func newItemEditCmd() *cobra.Command {
	f := new(itemWriteFlags)
	c := &cobra.Command{
		Use:   "edit <share-id> <item-id> [--title t] [--note n] [--secret]",
		Short: "Edit an item, previewing the note diff before pushing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(globalFlags)
			if err != nil {
				return err
			}
			defer s.closeWithTimeout()
			ctx := cmd.Context()
			shareID, itemID := args[0], args[1]

			var (
				revision int64
				proposed domain.ItemContents
			)
			err = s.app.ItemService.Get(ctx, shareID, itemID, func(it *domain.DecryptedItem) error {
				revision = it.Revision
				proposed = domain.ItemContents{
					Title:                it.Contents.Title,
					Note:                 it.Contents.Note,
					Content:              bytes.Clone(it.Contents.Content),
					ContentFormatVersion: it.Contents.ContentFormatVersion,
				}
				return nil
			})
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("title") {
				proposed.Title = f.title
			}
			if flags.Changed("note") {
				proposed.Note = f.note
			}
			if f.secret {
				if proposed.Content, err = readNewSecret(proposed.Title); err != nil {
					return err
				}
			}

			preview, err := s.app.ItemService.Describe(ctx, shareID, itemID, &proposed)
			if err != nil {
				return err
			}
			if preview != "" {
				fmt.Println(preview)
			}
			if !f.yes && !confirm("Push changes?") {
				fmt.Println(hintMark() + " Aborted")
				return nil
			}

			item, err := s.app.ItemService.Update(ctx, &domain.ItemUpdate{
				ShareID:      shareID,
				ItemID:       itemID,
				LastRevision: revision,
				Contents:     &proposed,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Updated %s to revision %d\n", okMark(), item.ID, item.Revision)
			return nil
		},
	}
	c.Flags().StringVarP(&f.title, "title", "t", "", "new title")
	c.Flags().StringVarP(&f.note, "note", "n", "", "new note")
	c.Flags().BoolVar(&f.secret, "secret", false, "prompt for a new secret")
	c.Flags().BoolVarP(&f.yes, "yes", "y", false, "push without confirmation")
	return c
}

func newItemTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <share-id> <item-id>...",
		Short: "Move items to the trash; each item succeeds or fails on its own",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(globalFlags)
			if err != nil {
				return err
			}
			defer s.closeWithTimeout()

			failed := 0
			ids := args[1:]
			for _, res := range s.app.ItemService.Trash(cmd.Context(), args[0], ids) {
				if res.OK() {
					fmt.Println(okMark() + " " + ids[res.Index])
					continue
				}
				failed++
				fmt.Println(failMark() + " " + ids[res.Index] + ": " + res.Err.Error())
			}
			if failed > 0 {
				return errSilent
			}
			return nil
		},
	}
}

func init() {
	itemCmd.AddCommand(newItemListCmd(), newItemShowCmd(), newItemCreateCmd(), newItemEditCmd(), newItemTrashCmd())
	rootCmd.AddCommand(itemCmd)
}
