package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dagger.io/dagger"
	"dagger.io/dagger/dag"
	"github.com/spf13/cobra"
)

var (
	image         string
	settingsFile  string
	outputDir     string
	scenarios     []string
	skipPreflight bool
	runURL        string

	// Build-time variables (injected via -ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	builderImage = "golang:1.25"
	binaryPath   = "/usr/local/bin/regverify"
	settingsPath = "/etc/regverify/settings.toml"
	resultsDir   = "/out"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "regverify-ci <source>",
		Short: "Run regverify inside a target image using Dagger",
		Long: `A CLI tool that builds regverify from a source checkout and runs the
registration lifecycle suite inside a container image that ships
insights-client. The report and attestation are exported to the output
directory even when scenarios fail.`,
		Args: cobra.ExactArgs(1),
		Example: `  # Run every scenario in a RHEL 9 test image
  regverify-ci . --image registry.example.com/qa/rhel9-insights:latest --settings ci/settings.toml

  # Run a single scenario and keep results in ./results
  regverify-ci . --image rhel9-insights --scenario double-registration --output results`,
		Run: func(cmd *cobra.Command, args []string) {
			if image == "" {
				fmt.Fprintf(os.Stderr, "Error: --image is required\n")
				os.Exit(1)
			}

			exitCode, err := runSuite(context.Background(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if exitCode != 0 {
				fmt.Fprintf(os.Stderr, "regverify exited with code %d\n", exitCode)
				os.Exit(exitCode)
			}
		},
	}

	// Version command
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("regverify-ci version %s\n", Version)
			fmt.Printf("Git commit: %s\n", Commit)
			fmt.Printf("Build time: %s\n", BuildTime)
		},
	}

	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().StringVarP(&image, "image", "i", "", "Container image with insights-client installed")
	rootCmd.Flags().StringVarP(&settingsFile, "settings", "s", "", "Settings file to mount into the container")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "regverify-results", "Directory where the report and attestation are exported")
	rootCmd.Flags().StringSliceVar(&scenarios, "scenario", nil, "Scenario to run (repeatable, defaults to all)")
	rootCmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Do not check subscription-manager before running")
	rootCmd.Flags().StringVar(&runURL, "url", "", "Link to this CI run recorded in the attestation")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSuite(ctx context.Context, source string) (int, error) {
	fmt.Println("Running regverify with Dagger")
	defer dag.Close()

	absPath, err := filepath.Abs(source)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve absolute path: %v", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return 0, fmt.Errorf("directory does not exist: %s", absPath)
	}

	fmt.Printf("Building regverify from: %s\n", absPath)
	src := dag.Host().Directory(absPath, dagger.HostDirectoryOpts{
		Exclude: []string{".git", "_examples", "regverify-results"},
	})

	binary := dag.Container().
		From(builderImage).
		WithDirectory("/src", src).
		WithWorkdir("/src").
		WithEnvVariable("CGO_ENABLED", "0").
		WithExec([]string{"go", "build", "-ldflags", "-X main.Version=" + Version, "-o", "/build/regverify", "./cmd/regverify"}).
		File("/build/regverify")

	fmt.Printf("Running suite in image: %s\n", image)
	target := dag.Container().
		From(image).
		WithFile(binaryPath, binary, dagger.ContainerWithFileOpts{Permissions: 0755}).
		WithDirectory(resultsDir, dag.Directory())

	if settingsFile != "" {
		absSettings, err := filepath.Abs(settingsFile)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve settings path: %v", err)
		}
		target = target.WithFile(settingsPath, dag.Host().File(absSettings))
	}

	// Pass candlepin credentials through as secrets so they never land in a layer
	if username := os.Getenv("REGVERIFY_CANDLEPIN_USERNAME"); username != "" {
		target = target.WithEnvVariable("REGVERIFY_CANDLEPIN_USERNAME", username)
	}
	if password := os.Getenv("REGVERIFY_CANDLEPIN_PASSWORD"); password != "" {
		target = target.WithSecretVariable("REGVERIFY_CANDLEPIN_PASSWORD", dag.SetSecret("candlepin-password", password))
	}

	ran := target.WithExec(regverifyArgs(), dagger.ContainerWithExecOpts{Expect: dagger.ReturnTypeAny})

	exitCode, err := ran.ExitCode(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to run regverify: %w", err)
	}

	stdout, err := ran.Stdout(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read regverify output: %w", err)
	}
	fmt.Print(stdout)

	if _, err := ran.Directory(resultsDir).Export(ctx, outputDir); err != nil {
		return 0, fmt.Errorf("failed to export results: %w", err)
	}
	fmt.Printf("Results exported to: %s\n", outputDir)

	return exitCode, nil
}

// regverifyArgs builds the command line run inside the target container
func regverifyArgs() []string {
	args := []string{binaryPath}
	if settingsFile != "" {
		args = append(args, "--settings", settingsPath)
	}
	args = append(args, "run",
		"--report", resultsDir+"/report.json",
		"--attest", resultsDir+"/report.intoto.json",
	)
	if skipPreflight {
		args = append(args, "--skip-preflight")
	}
	if runURL != "" {
		args = append(args, "--url", runURL)
	}
	for _, s := range scenarios {
		args = append(args, strings.TrimSpace(s))
	}
	return args
}
