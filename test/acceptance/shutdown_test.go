package acceptance_test

import (
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("shutdown mid-flight", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("checkpoints BeforeShutdown on SIGINT and leaves items pending for resume", func() {
		items := "[" +
			`{"id":1},{"id":2},{"id":3},{"id":4},{"id":5},` +
			`{"id":6},{"id":7},{"id":8},{"id":9},{"id":10}` +
			"]"
		writeFile(filepath.Join(repoDir, "items.json"), items)
		writeFile(filepath.Join(repoDir, "loom.yaml"), `
name: slow-job

map:
  input: items.json
  max_parallel: 2
  agent_template:
    commands:
      - shell: "sleep 10"
        commit_required: false
`)
		cmd := exec.Command(binaryPath, "run", "--path", "loom.yaml", "--job-id", "shutdown-job")
		cmd.Dir = repoDir
		Expect(cmd.Start()).To(Succeed())

		time.Sleep(1 * time.Second)
		Expect(cmd.Process.Signal(syscall.SIGINT)).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			_ = cmd.Process.Kill()
			Fail("process did not exit after SIGINT")
		}

		cpCmd := exec.Command(binaryPath, "checkpoints", "list", "shutdown-job", "--path", "loom.yaml")
		cpCmd.Dir = repoDir
		cpOut, cpErr := cpCmd.Output()
		Expect(cpErr).NotTo(HaveOccurred())
		Expect(string(cpOut)).To(ContainSubstring("BeforeShutdown"))

		statusCmd := exec.Command(binaryPath, "status", "shutdown-job", "--path", "loom.yaml")
		statusCmd.Dir = repoDir
		statusOut, statusErr := statusCmd.Output()
		Expect(statusErr).NotTo(HaveOccurred())
		Expect(string(statusOut)).NotTo(ContainSubstring("10/10 done"))
		Expect(strings.Contains(string(statusOut), "pending)")).To(BeTrue())
	})
})
