package acceptance_test

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// staleLock mirrors the on-disk shape internal/resume.Lock writes, without
// importing the package, so the test can plant one directly.
type staleLock struct {
	JobID      string    `json:"job_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

var _ = Describe("resume after crash with a stale lock", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("reclaims the stale lock, resumes, and never re-executes item 1", func() {
		trackPath := filepath.Join(tmpDir, "track.txt")

		writeFile(filepath.Join(repoDir, "items.json"), `[{"id":1},{"id":2}]`)
		workflow := fmt.Sprintf(`
name: crash-job

map:
  input: items.json
  max_parallel: 1
  agent_template:
    commands:
      - shell: "echo ${item.id} >> %s; sleep 5"
        commit_required: false
`, trackPath)
		writeFile(filepath.Join(repoDir, "loom.yaml"), workflow)

		cmd := exec.Command(binaryPath, "run", "--path", "loom.yaml", "--job-id", "crash-job")
		cmd.Dir = repoDir
		Expect(cmd.Start()).To(Succeed())

		// Let item 1 finish (its echo+sleep-5 step) and item 2 begin, then
		// kill the process hard, as if it had crashed mid-flight rather
		// than shutting down gracefully.
		time.Sleep(6 * time.Second)
		Expect(cmd.Process.Kill()).To(Succeed())
		_ = cmd.Wait()

		content, err := os.ReadFile(trackPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("1\n"))

		lockDir := filepath.Join(repoDir, ".loom", "locks")
		Expect(os.MkdirAll(lockDir, 0755)).To(Succeed())
		hostname, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())
		lock := staleLock{
			JobID:      "crash-job",
			PID:        999999999,
			Hostname:   hostname,
			AcquiredAt: time.Now().Add(-time.Hour),
		}
		data, err := json.Marshal(lock)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(lockDir, "crash-job.lock"), data, 0644)).To(Succeed())

		resumeCmd := exec.Command(binaryPath, "resume", "crash-job", "--path", "loom.yaml")
		resumeCmd.Dir = repoDir
		out, resumeErr := resumeCmd.CombinedOutput()
		Expect(resumeErr).NotTo(HaveOccurred(), "output: %s", string(out))

		finalContent, err := os.ReadFile(trackPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(finalContent)).To(Equal("1\n2\n"))
	})
})
