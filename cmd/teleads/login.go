package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"teleads/internal/app"
	"teleads/internal/failure"
)

func newLoginCmd(opts *rootOpts) *cobra.Command {
	var (
		name  string
		phone string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize an account and store its session file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client, acc, err := app.AccountClient(cfg, name, consoleLog())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			err = client.Start(ctx)
			switch {
			case err == nil:
				self, err := client.Self(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%s is already logged in as %s\n", acc.Name, self.Display)
				return err
			case !errors.Is(err, failure.ErrAuthenticationRequired):
				return err
			}

			if phone == "" {
				phone = acc.Phone
			}
			prompt := &linePrompt{in: bufio.NewReader(cmd.InOrStdin()), out: out}
			if phone == "" {
				if phone, err = prompt.ask("phone number (international format): "); err != nil {
					return err
				}
			}
			self, err := client.Login(ctx, phone, prompt)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "logged in as %s; session saved to %s\n", self.Display, app.SessionPath(cfg, acc))
			return err
		},
	}
	cmd.Flags().StringVarP(&name, "account", "a", "", "account name from the config")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number; defaults to the account's configured phone")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// linePrompt reads answers line by line; it implements mtproto.Prompt.
type linePrompt struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompt) ask(q string) (string, error) {
	if _, err := fmt.Fprint(p.out, q); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *linePrompt) Code(_ context.Context, phone string) (string, error) {
	return p.ask("code sent to " + phone + ": ")
}

func (p *linePrompt) Password(context.Context) (string, error) {
	return p.ask("two-step verification password: ")
}
