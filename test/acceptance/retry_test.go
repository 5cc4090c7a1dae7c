package acceptance_test

import (
	"fmt"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("retry on failure", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("succeeds on the second attempt when the first fails", func() {
		counterPath := filepath.Join(tmpDir, "counter")
		writeFile(counterPath, "0")

		writeFile(filepath.Join(repoDir, "items.json"), `[{"id":1}]`)
		workflow := fmt.Sprintf(`
name: flaky-once

setup:
  - shell: "true"

map:
  input: items.json
  retry_on_failure: 2
  agent_template:
    commands:
      - shell: "n=$(cat %[1]s); n=$((n+1)); echo $n > %[1]s; [ $n -ge 2 ]"
        commit_required: false
`, counterPath)
		writeFile(filepath.Join(repoDir, "loom.yaml"), workflow)

		out, err := runLoom(repoDir, "run", "--path", "loom.yaml", "--job-id", "flaky-job")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("1/1 succeeded"))
		Expect(string(out)).To(ContainSubstring("0 failed"))

		evOut, evErr := runLoom(repoDir, "events", "flaky-job", "--path", "loom.yaml", "-n", "100")
		Expect(evErr).NotTo(HaveOccurred(), "output: %s", string(evOut))
		Expect(string(evOut)).To(ContainSubstring("AgentRetrying"))
	})
})
