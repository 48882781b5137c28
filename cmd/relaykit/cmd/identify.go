package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/relaykit/internal/core/db"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/types"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Set the user id or email, then print identity and retry flags",
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().String("user-id", "", "customer id to link to the visitor")
	identifyCmd.Flags().String("email", "", "email to attach to the visitor")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user-id")
	email, _ := cmd.Flags().GetString("email")

	s, err := startSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.db.Close()

	switch {
	case userID != "" && email != "":
		if !s.rt.RegisterUser(userID, email) {
			err = fmt.Errorf("user id %q or email %q rejected", userID, email)
		}
	case userID != "":
		if !s.rt.SetUserID(userID) {
			err = fmt.Errorf("user id %q rejected", userID)
		}
	case email != "":
		if !s.rt.SetUserEmail(email) {
			err = fmt.Errorf("email %q rejected", email)
		}
	}

	// Retry flags settle once the delivery queue has drained.
	if cerr := s.rt.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return printIdentity(cmd, s)
}

func printIdentity(cmd *cobra.Command, s *session) error {
	queries, err := db.LoadQueries(s.db)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	state, err := identity.NewManager(db.NewSettings(queries), s.logger).State()
	if err != nil {
		return fmt.Errorf("failed to read identity: %w", err)
	}
	flags, err := db.NewRetryFlags(queries).All()
	if err != nil {
		return fmt.Errorf("failed to read retry flags: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "initial_visitor_id %s\n", state.InitialVisitorID)
	fmt.Fprintf(out, "visitor_id         %s\n", state.VisitorID)
	fmt.Fprintf(out, "customer_id        %s\n", state.CustomerID)
	fmt.Fprintf(out, "email              %s\n", state.Email)
	for _, kind := range types.IdentityKinds {
		fmt.Fprintf(out, "retry %-12s %t\n", kind, flags[kind])
	}
	return nil
}
