package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/bidkit/internal/archive"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/loader"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/pricing"
	"github.com/hyperengineering/bidkit/internal/render"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

var (
	contractForm   types.ContractInput
	contractRevise bool
	pdfOutput      string
)

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Generate, inspect and archive proposal contracts",
}

var contractShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show the current contract of a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runContractShow,
}

var contractGenerateCmd = &cobra.Command{
	Use:   "generate <proposal-id>",
	Short: "Generate a contract, or a revision with --revise",
	Long: "Generates a contract for a proposal. When the proposal already has one " +
		"the command stops unless --revise is given, in which case a new version is created.",
	Args: cobra.ExactArgs(1),
	RunE: runContractGenerate,
}

var contractPDFCmd = &cobra.Command{
	Use:   "pdf <proposal-id>",
	Short: "Render the current contract as PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runContractPDF,
}

var contractArchiveCmd = &cobra.Command{
	Use:   "archive <proposal-id>",
	Short: "Upload the rendered contract to the archive bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runContractArchive,
}

func init() {
	addClientFlags(contractCmd)

	f := contractGenerateCmd.Flags()
	f.StringVar(&contractForm.ClientName, "client", "", "Client name")
	f.StringVar(&contractForm.ContractorName, "contractor", "", "Contractor name")
	f.StringVar(&contractForm.TermsAndConditions, "terms", "", "Terms and conditions")
	f.StringVar(&contractForm.ClientInitials, "client-initials", "", "Client initials")
	f.StringVar(&contractForm.ContractorInitials, "contractor-initials", "", "Contractor initials")
	f.BoolVar(&contractRevise, "revise", false, "Create a new version when a contract exists")

	contractPDFCmd.Flags().StringVarP(&pdfOutput, "output", "o", "",
		"Output file, or - for stdout (default contract-<client>-v<version>.pdf)")

	contractCmd.AddCommand(contractShowCmd)
	contractCmd.AddCommand(contractGenerateCmd)
	contractCmd.AddCommand(contractPDFCmd)
	contractCmd.AddCommand(contractArchiveCmd)
}

func runContractShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := resolveClient()
	if err != nil {
		return err
	}
	ct, err := client.GetProposalContract(ctx, args[0])
	if err != nil {
		if errors.Is(err, bidapi.ErrNotFound) {
			return fmt.Errorf("proposal %s has no contract", args[0])
		}
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), ct)
	}
	printContract(cmd, ct)
	return nil
}

func printContract(cmd *cobra.Command, ct *types.Contract) {
	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Contract:\t%s\n", ct.ID)
	fmt.Fprintf(w, "Proposal:\t%s\n", ct.ProposalID)
	fmt.Fprintf(w, "Version:\t%d\n", ct.Version)
	fmt.Fprintf(w, "Client:\t%s\t%s\n", ct.ClientName, signatureStatus(ct.ClientInitials, ct.ClientSignedAt != nil))
	fmt.Fprintf(w, "Contractor:\t%s\t%s\n", ct.ContractorName, signatureStatus(ct.ContractorInitials, ct.ContractorSignedAt != nil))
	fmt.Fprintf(w, "Updated:\t%s\n", pricing.FormatDate(ct.UpdatedAt))
	w.Flush()
}

func signatureStatus(initials string, signed bool) string {
	switch {
	case !signed:
		return "unsigned"
	case initials != "":
		return "signed (" + initials + ")"
	default:
		return "signed"
	}
}

func runContractGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := resolveClient()
	if err != nil {
		return err
	}
	wf := contracts.NewWorkflow(args[0], client, contracts.NewCache(client), nil)

	ct, err := wf.Submit(ctx, contractForm, notify.Log{})
	if errors.Is(err, contracts.ErrRevisionRequired) {
		if !contractRevise {
			return fmt.Errorf("proposal %s already has a contract; rerun with --revise to create a new version", args[0])
		}
		ct, err = wf.ConfirmRevision(ctx, notify.Log{})
	}
	if err != nil && !errors.Is(err, contracts.ErrVersionNotIncremented) {
		return err
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: revision saved but the contract version did not increase")
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), ct)
	}
	printContract(cmd, ct)
	return nil
}

// contractDocument loads everything printed on the proposal's contract.
func contractDocument(ctx context.Context, proposalID string) (render.ContractDocument, error) {
	client, cfg, err := resolveClient()
	if err != nil {
		return render.ContractDocument{}, err
	}
	ct, err := client.GetProposalContract(ctx, proposalID)
	if err != nil {
		if errors.Is(err, bidapi.ErrNotFound) {
			return render.ContractDocument{}, fmt.Errorf("proposal %s has no contract", proposalID)
		}
		return render.ContractDocument{}, err
	}
	p, err := client.GetProposal(ctx, proposalID)
	if err != nil {
		return render.ContractDocument{}, fmt.Errorf("get proposal: %w", err)
	}
	d := loader.NewProposalLoader(client, nil, loaderOptions(cfg)).Details(ctx, proposalID)
	return render.NewContractDocument(*ct, *p, d.ElementValues, d.Categories, timeNow()), nil
}

func runContractPDF(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	doc, err := contractDocument(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := render.ContractPDF(doc)
	if err != nil {
		return fmt.Errorf("render contract: %w", err)
	}

	path := pdfOutput
	if path == "" {
		path = render.ContractFilename(doc.Contract)
	}
	if err := writeFile(cmd.OutOrStdout(), path, data); err != nil {
		return err
	}
	if path != "-" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}

func runContractArchive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	uploader, err := archive.NewUploader(cfg.Archive)
	if err != nil {
		return err
	}
	if _, noop := uploader.(archive.NoopUploader); noop {
		return archive.ErrNotConfigured
	}

	doc, err := contractDocument(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := render.ContractPDF(doc)
	if err != nil {
		return fmt.Errorf("render contract: %w", err)
	}
	version := doc.Contract.Version
	if err := uploader.Upload(ctx, args[0], version, data); err != nil {
		return fmt.Errorf("archive contract: %w", err)
	}
	url, expires, err := uploader.PresignedURL(ctx, args[0], version)
	if err != nil {
		return fmt.Errorf("presign contract: %w", err)
	}

	key := archive.ObjectKey(args[0], version)
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"key":        key,
			"url":        url,
			"expires_at": expires,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n%s\n(link expires %s)\n", key, url, expires.Format("2006-01-02 15:04"))
	return nil
}
