package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/puttlab/internal/apiclient"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a backend account and sign in",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the backend",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var (
	accountEmail     string
	accountFirstName string
	accountLastName  string
	accountPassword  string
)

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVar(&accountEmail, "email", "", "Account email (prompted when omitted)")
		c.Flags().StringVar(&accountPassword, "password", "", "Account password (prompted without echo when omitted)")
	}
	registerCmd.Flags().StringVar(&accountFirstName, "first-name", "", "First name (prompted when omitted)")
	registerCmd.Flags().StringVar(&accountLastName, "last-name", "", "Last name (prompted when omitted)")
}

// prompter reads missing values from the command's input.
type prompter struct {
	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	in := cmd.InOrStdin()
	return &prompter{in: in, r: bufio.NewReader(in), out: cmd.ErrOrStderr()}
}

func (p *prompter) line(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(s), nil
}

// secret reads without echo from a terminal and falls back to a plain line.
func (p *prompter) secret(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(p.out, "%s: ", label)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return string(raw), nil
	}
	return p.line(label, "")
}

func runRegister(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	p := newPrompter(cmd)
	req := apiclient.RegisterRequest{}
	if req.FirstName, err = p.line("First name", accountFirstName); err != nil {
		return err
	}
	if req.LastName, err = p.line("Last name", accountLastName); err != nil {
		return err
	}
	if req.Email, err = p.line("Email", accountEmail); err != nil {
		return err
	}
	if req.Password, err = p.secret("Password", accountPassword); err != nil {
		return err
	}

	cmd.SilenceUsage = true
	if _, err := a.client.RegisterUser(cmd.Context(), req); err != nil {
		return err
	}
	if err := a.saveCredentials(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered and signed in as %s\n", req.Email)
	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	p := newPrompter(cmd)
	email, err := p.line("Email", accountEmail)
	if err != nil {
		return err
	}
	password, err := p.secret("Password", accountPassword)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	if _, err := a.client.Login(cmd.Context(), email, password); err != nil {
		return err
	}
	if err := a.saveCredentials(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", email)
	return nil
}
