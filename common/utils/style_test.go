package utils_test

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/utils"
)

var _ = Describe("Styles", func() {
	It("Will leave the color profile detected from the terminal", func() {
		detected := lipgloss.NewRenderer(os.Stdout).ColorProfile()
		Expect(lipgloss.ColorProfile()).To(Equal(detected))
	})

	It("Will keep the text of styled output", func() {
		for _, style := range []lipgloss.Style{utils.RedStyle, utils.YellowStyle, utils.GreenStyle, utils.LightBlueStyle, utils.GrayStyle} {
			Expect(style.Render("cell 1 failed")).To(ContainSubstring("cell 1 failed"))
		}
	})
})
