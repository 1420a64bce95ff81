// Command voteclient is the external collaborator CLI described in
// spec.md §6: it constructs one of the recognized request messages,
// sniffs a "leader" broadcast to find the current leader, sends the
// request, and prints the reply.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ringvote/coordinator/internal/clientutil"
	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/monitor"
	"github.com/ringvote/coordinator/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "voteclient",
		Short: "Create, vote in, and end ringvote elections",
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.PathFromEnv(), "cluster config YAML path")

	root.AddCommand(newCreateCmd(&configPath))
	root.AddCommand(newVoteCmd(&configPath))
	root.AddCommand(newEndCmd(&configPath))
	root.AddCommand(newPingCmd())
	return root
}

func newPingCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a diagnostic ping to a peer and print its node id and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := monitor.NewChecker().Ping(host, port)
			if err != nil {
				return err
			}
			fmt.Printf("node %d is %s\n", result.NodeID, result.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "peer host (required)")
	cmd.Flags().IntVar(&port, "port", 0, "peer peer-TCP port (required)")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("port")
	return cmd
}

func newCreateCmd(configPath *string) *cobra.Command {
	var (
		id         string
		candidates []string
		authorized []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new election",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			reply, err := clientutil.SendToLeader(cfg, transport.ElectionRequest{
				Type:       transport.TypeElection,
				ID:         id,
				Candidates: candidates,
				Authorized: authorized,
			})
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "election id (required)")
	cmd.Flags().StringSliceVar(&candidates, "candidates", nil, "candidate names (required)")
	cmd.Flags().StringSliceVar(&authorized, "authorized-users", nil, "authorized voter ids (required)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("candidates")
	cmd.MarkFlagRequired("authorized-users")
	return cmd
}

func newVoteCmd(configPath *string) *cobra.Command {
	var (
		voterID    string
		electionID string
		candidate  string
	)
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast a vote in an election",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			reply, err := clientutil.SendToLeader(cfg, transport.VoteRequest{
				Type:       transport.TypeVote,
				ElectionID: electionID,
				VoterID:    voterID,
				Candidate:  candidate,
			})
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&voterID, "id", "", "your voter id (required)")
	cmd.Flags().StringVar(&electionID, "election-id", "", "election id to vote in (required)")
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate to vote for (required)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("election-id")
	cmd.MarkFlagRequired("candidate")
	return cmd
}

func newEndCmd(configPath *string) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "end",
		Short: "End an election and print the winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			reply, err := clientutil.SendToLeader(cfg, transport.EndElectionRequest{
				Type: transport.TypeEndElection,
				ID:   id,
			})
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "election id to end (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
