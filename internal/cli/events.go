package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/re-cinq/loom/internal/event"
	"github.com/spf13/cobra"
)

var (
	eventsFollow bool
	eventsTail   int
)

func init() {
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Follow the event log as it grows")
	eventsCmd.Flags().IntVarP(&eventsTail, "tail", "n", 50, "Number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "Show a job's structured event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		cfg, _, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}
		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		lo := resolveLayout(repoDir, cfg)
		logPath := filepath.Join(lo.events, jobID+".jsonl")

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			return fmt.Errorf("no event log found for job %s (expected at %s)", jobID, logPath)
		}

		if err := printTailEvents(logPath, eventsTail); err != nil {
			return err
		}
		if eventsFollow {
			return followEvents(logPath)
		}
		return nil
	},
}

func printTailEvents(path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		printEventLine(line)
	}
	return nil
}

// followEvents polls the event log for new lines, since the JSONLSink
// writes through a single background goroutine with no companion
// subscribe API.
func followEvents(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			printEventLine(strings.TrimRight(line, "\n"))
			continue
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func printEventLine(line string) {
	var e event.Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		fmt.Println(line)
		return
	}
	fmt.Printf("%s  %-16s  %s\n", e.Timestamp.Format("15:04:05.000"), e.Kind, e.ItemID)
}
