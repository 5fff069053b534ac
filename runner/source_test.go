package runner_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/runner"
)

const notebookJSON = `{
  "cells": [
    {"cell_type": "markdown", "metadata": {}, "source": ["# Title\n"]},
    {"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": ["x = 32\n", "x + 6"]},
    {"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": "print('hi')"},
    {"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": []}
  ],
  "metadata": {"kernelspec": {"name": "python3"}},
  "nbformat": 4,
  "nbformat_minor": 5
}`

var _ = Describe("LoadSource", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("Will prefer inline code", func() {
		cells, err := runner.LoadSource("32+6", filepath.Join(dir, "ignored.py"))
		Expect(err).To(BeNil())
		Expect(cells).To(Equal([]string{"32+6"}))
	})

	It("Will require some code", func() {
		_, err := runner.LoadSource("", "")
		Expect(err).To(MatchError(runner.ErrNoSource))
	})

	It("Will read a script as one cell", func() {
		path := filepath.Join(dir, "step.py")
		Expect(os.WriteFile(path, []byte("import math\nmath.sqrt(16)\n"), 0644)).To(Succeed())

		cells, err := runner.LoadSource("", path)
		Expect(err).To(BeNil())
		Expect(cells).To(Equal([]string{"import math\nmath.sqrt(16)\n"}))
	})

	It("Will reject an empty script", func() {
		path := filepath.Join(dir, "empty.py")
		Expect(os.WriteFile(path, []byte("\n\n"), 0644)).To(Succeed())

		_, err := runner.LoadSource("", path)
		Expect(err).To(MatchError(runner.ErrNoSource))
	})

	It("Will read the code cells of a notebook", func() {
		path := filepath.Join(dir, "analysis.ipynb")
		Expect(os.WriteFile(path, []byte(notebookJSON), 0644)).To(Succeed())

		cells, err := runner.LoadSource("", path)
		Expect(err).To(BeNil())
		Expect(cells).To(Equal([]string{"x = 32\nx + 6", "print('hi')"}))
	})

	It("Will report a missing file", func() {
		_, err := runner.LoadSource("", filepath.Join(dir, "missing.py"))
		Expect(err).To(MatchError(os.ErrNotExist))
	})

	It("Will reject malformed notebooks", func() {
		_, err := runner.ParseNotebook([]byte("{not json"))
		Expect(err).To(MatchError(runner.ErrInvalidNotebook))

		_, err = runner.ParseNotebook([]byte(`{"cells": [{"cell_type": "code", "source": 42}], "nbformat": 4}`))
		Expect(err).To(MatchError(runner.ErrInvalidNotebook))

		_, err = runner.ParseNotebook([]byte(`{"cells": [], "nbformat": 3}`))
		Expect(err).To(MatchError(runner.ErrInvalidNotebook))

		_, err = runner.ParseNotebook([]byte(`{"cells": [{"cell_type": "markdown", "source": "text"}], "nbformat": 4}`))
		Expect(err).To(MatchError(runner.ErrNoSource))
	})
})
