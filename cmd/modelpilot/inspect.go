package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"modelpilot/internal/catalog"
	"modelpilot/internal/httpapi"
	"modelpilot/pkg/types"
)

var (
	modelsCapability string
	modelsOffline    bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the hardware profile and tier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		prof := newProfiler(cfg).Profile(cmd.Context())
		return printJSON(cmd.OutOrStdout(), prof)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List catalog models, in selection order when a capability is given",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsCapability, "capability", "", "filter by modality (image, text, video, audio)")
	modelsCmd.Flags().BoolVar(&modelsOffline, "offline", false, "skip provider discovery")
}

func runModels(cmd *cobra.Command, _ []string) error {
	var modality catalog.Modality
	if modelsCapability != "" {
		m, err := catalog.ParseModality(modelsCapability)
		if err != nil {
			return err
		}
		modality = m
	}
	cat, err := newCatalog(cfg, newAdapters(cfg))
	if err != nil {
		return err
	}
	defer func() { logErr(cat.Close(), "catalog close") }()

	if !modelsOffline {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if fresh, err := cat.LoadCached(); err != nil || !fresh {
			if err := cat.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("discovery incomplete")
			}
		}
	}

	ds := cat.List()
	if modality != "" {
		ds = cat.ListCandidates(modality, newProfiler(cfg).Profile(cmd.Context()).HasGPU)
	}
	return printJSON(cmd.OutOrStdout(), types.ModelsResponse{Models: httpapi.ModelsFromDescriptors(ds)})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
