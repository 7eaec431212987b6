// csm-deploy builds and pushes the service container image and prints the
// manual steps left to finish a serverless deployment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Flag descriptions.
const (
	flagUsernameDesc = "Container registry username (defaults to DOCKERHUB_USERNAME)"
	flagImageDesc    = "Image name to build and push"
	flagTagDesc      = "Image tag"
	flagContextDesc  = "Docker build context directory"
	flagSkipPushDesc = "Build only, do not push"
)

// Defaults.
const (
	envDockerUsername = "DOCKERHUB_USERNAME"
	defaultImageName  = "csm-api"
	defaultTag        = "latest"
	defaultContext    = "."
	buildTimeout      = 30 * time.Minute
)

// Static errors.
var (
	ErrUsernameRequired = errors.New("registry username is required")
	ErrDockerNotFound   = errors.New("docker is not installed")
	ErrDaemonNotRunning = errors.New("docker daemon is not running")
)

type deployFlags struct {
	username string
	image    string
	tag      string
	buildCtx string
	skipPush bool
}

func parseFlags() *deployFlags {
	flags := &deployFlags{}

	flag.StringVar(&flags.username, "username", os.Getenv(envDockerUsername), flagUsernameDesc)
	flag.StringVar(&flags.image, "image", defaultImageName, flagImageDesc)
	flag.StringVar(&flags.tag, "tag", defaultTag, flagTagDesc)
	flag.StringVar(&flags.buildCtx, "context", defaultContext, flagContextDesc)
	flag.BoolVar(&flags.skipPush, "skip-push", false, flagSkipPushDesc)
	flag.Parse()

	return flags
}

// imageRef returns the fully qualified image reference.
func (f *deployFlags) imageRef() string {
	return fmt.Sprintf("%s/%s:%s", f.username, f.image, f.tag)
}

// checkDocker verifies the docker binary exists and the daemon answers.
func checkDocker(ctx context.Context) error {
	_, err := exec.LookPath("docker")
	if err != nil {
		return fmt.Errorf("%w: install Docker and try again", ErrDockerNotFound)
	}

	infoCmd := exec.CommandContext(ctx, "docker", "info")

	err = infoCmd.Run()
	if err != nil {
		return fmt.Errorf("%w: start Docker and try again", ErrDaemonNotRunning)
	}

	return nil
}

// runDocker runs a docker subcommand with output attached to the terminal,
// so login prompts and build progress are visible.
func runDocker(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w", args[0], err)
	}

	return nil
}

func printInstructions(imageRef string) {
	fmt.Println()
	fmt.Printf("Image ready: %s\n", imageRef)
	fmt.Println()
	fmt.Println("To deploy on the serverless platform:")
	fmt.Println("  1. Open the serverless console and create a new endpoint")
	fmt.Println("  2. Select import from container registry")
	fmt.Printf("  3. Enter the image reference: %s\n", imageRef)
	fmt.Println("  4. Configure:")
	fmt.Println("     - GPU: RTX 3090 or A100")
	fmt.Println("     - Container disk: 25 GB")
	fmt.Println("     - Max workers: 5")
	fmt.Println("     - Port: 8000")
	fmt.Println("     - Environment variables:")
	fmt.Println("         PORT=8000")
	fmt.Println("         MODEL_NAME=saishah/sesame-csm-1b")
	fmt.Println("         DEVICE=cuda")
	fmt.Println()
	fmt.Println("Deployment preparation complete.")
}

func run(ctx context.Context, flags *deployFlags) error {
	if flags.username == "" {
		return fmt.Errorf("%w: pass -username or set %s", ErrUsernameRequired, envDockerUsername)
	}

	fmt.Println("[1/4] Checking Docker installation...")

	err := checkDocker(ctx)
	if err != nil {
		return err
	}

	fmt.Println("[2/4] Logging into the registry...")

	err = runDocker(ctx, "login", "-u", flags.username)
	if err != nil {
		return err
	}

	imageRef := flags.imageRef()

	fmt.Printf("[3/4] Building %s (this may take several minutes)...\n", imageRef)

	err = runDocker(ctx, "build", "-t", imageRef, flags.buildCtx)
	if err != nil {
		return err
	}

	if flags.skipPush {
		fmt.Println("Skipping push.")
		printInstructions(imageRef)

		return nil
	}

	fmt.Printf("[4/4] Pushing %s...\n", imageRef)

	err = runDocker(ctx, "push", imageRef)
	if err != nil {
		return err
	}

	printInstructions(imageRef)

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	err := run(ctx, parseFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deployment failed: %v\n", err)
		os.Exit(1)
	}
}
