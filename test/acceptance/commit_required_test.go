package acceptance_test

import (
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("commit_required enforcement", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("dead-letters an item whose template produces no commit", func() {
		writeFile(filepath.Join(repoDir, "items.json"), `[{"id":1}]`)
		writeFile(filepath.Join(repoDir, "loom.yaml"), `
name: no-commit

map:
  input: items.json
  retry_on_failure: 1
  agent_template:
    commands:
      - shell: "echo nothing changes here"
        commit_required: true
`)
		out, err := runLoom(repoDir, "run", "--path", "loom.yaml", "--job-id", "no-commit-job")
		Expect(err).To(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("1 failed"))

		listOut, listErr := runLoom(repoDir, "dlq", "list", "no-commit-job", "--path", "loom.yaml")
		Expect(listErr).NotTo(HaveOccurred(), "output: %s", string(listOut))
		Expect(strings.TrimSpace(string(listOut))).NotTo(Equal("No dead-lettered items."))

		showOut, showErr := runLoom(repoDir, "dlq", "show", "no-commit-job", "item-0", "--path", "loom.yaml")
		Expect(showErr).NotTo(HaveOccurred(), "output: %s", string(showOut))
		Expect(string(showOut)).To(ContainSubstring("CommitValidationFailed"))
	})
})
