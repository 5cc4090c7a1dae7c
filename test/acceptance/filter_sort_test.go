package acceptance_test

import (
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("filter, sort, and limit", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = newTestRepo()
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("processes items in priority DESC, name ASC order after filtering out priority <= 2", func() {
		orderPath := filepath.Join(tmpDir, "order.txt")

		writeFile(filepath.Join(repoDir, "items.json"), `[
  {"priority": 3, "name": "b"},
  {"priority": 5, "name": "a"},
  {"priority": 5, "name": "c"},
  {"priority": 1, "name": "d"},
  {"priority": 7, "name": "e"}
]`)
		workflow := fmt.Sprintf(`
name: filter-sort

map:
  input: items.json
  max_parallel: 1
  filter: "priority > 2"
  sort_by: "priority DESC, name ASC"
  agent_template:
    commands:
      - shell: "echo ${item.priority}-${item.name} >> %s"
        commit_required: false
`, orderPath)
		writeFile(filepath.Join(repoDir, "loom.yaml"), workflow)

		out, err := runLoom(repoDir, "run", "--path", "loom.yaml", "--job-id", "filter-sort-job")
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("4/4 succeeded"))

		content, readErr := os.ReadFile(orderPath)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("7-e\n5-a\n5-c\n3-b\n"))
	})
})
