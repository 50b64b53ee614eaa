package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <package.wasm>",
	Short: "Show the nodes and permissions a package exports",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the manifest as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	wasmBytes, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read package: %w", err)
	}

	runtime, err := wasm.NewRuntime(ctx, wasm.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = runtime.Close(ctx) }()

	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	pkg, err := runtime.Load(ctx, name, wasmBytes)
	if err != nil {
		return err
	}
	manifest := pkg.Manifest()

	if inspectJSON {
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	fmt.Fprintf(os.Stdout, "Package:  %s\n", manifest.Name)
	if manifest.Version != "" {
		fmt.Fprintf(os.Stdout, "Version:  %s\n", manifest.Version)
	}
	fmt.Fprintf(os.Stdout, "Digest:   %s\n", pkg.Digest())
	fmt.Fprintf(os.Stdout, "ABI:      %d\n", manifest.ABIVersion)
	if len(manifest.Permissions) > 0 {
		fmt.Fprintf(os.Stdout, "Permissions: %s\n", strings.Join(manifest.Permissions, ", "))
	} else {
		fmt.Fprintln(os.Stdout, "Permissions: none")
	}

	for _, def := range manifest.Nodes {
		fmt.Fprintf(os.Stdout, "\nNode %s (%s)\n", def.Name, def.FriendlyName)
		if def.Description != "" {
			fmt.Fprintf(os.Stdout, "  %s\n", def.Description)
		}
		for _, pin := range def.InputPins() {
			fmt.Fprintf(os.Stdout, "  in  %-20s %s\n", pin.Name, pin.DataType)
		}
		for _, pin := range def.OutputPins() {
			fmt.Fprintf(os.Stdout, "  out %-20s %s\n", pin.Name, pin.DataType)
		}
	}
	return nil
}
