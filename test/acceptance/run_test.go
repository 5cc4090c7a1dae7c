package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("loom run", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("processes every item and reports success", func() {
		writeFile(filepath.Join(repoDir, "items.json"), `[{"id":1},{"id":2},{"id":3}]`)
		writeFile(filepath.Join(repoDir, "loom.yaml"), `
name: happy-path

map:
  input: items.json
  max_parallel: 2
  agent_template:
    commands:
      - shell: "echo ${item.id}"
        capture_output: "stdout"
        commit_required: false

reduce:
  commands:
    - shell: "echo map.successful=${map.successful}"
`)
		out, err := runLoom(repoDir, "run", "--path", "loom.yaml")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("3/3 succeeded"))
		Expect(string(out)).To(ContainSubstring("0 failed"))
	})

	It("writes checkpoints under the directory named by --job-id", func() {
		writeFile(filepath.Join(repoDir, "items.json"), `[{"id":1}]`)
		writeFile(filepath.Join(repoDir, "loom.yaml"), `
name: stable-id

map:
  input: items.json
  agent_template:
    commands:
      - shell: "echo ${item.id}"
        commit_required: false
`)
		out1, err := runLoom(repoDir, "run", "--path", "loom.yaml", "--job-id", "fixed-job")
		Expect(err).NotTo(HaveOccurred(), "first run: %s", string(out1))

		checkpointDir := filepath.Join(repoDir, ".loom", "checkpoints", "fixed-job")
		entries, statErr := os.ReadDir(checkpointDir)
		Expect(statErr).NotTo(HaveOccurred())
		Expect(len(entries)).To(BeNumerically(">=", 1))
	})
})
