package cli

import (
	"bufio"
	"fmt"
	"intranet-assistant-go/internal/service"
	"io"
	"strings"
)

// confirm 打印问题并读取一行回答，只有 y 或 yes 视为同意。
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/n) ", question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// syncSelection 决定 sync 要处理哪些分类；未通过标志选择的分类逐个询问。
type syncSelection struct {
	New, Stale, NoLastMod, Yes bool
}

// selectURLs 根据标志与交互回答合并待同步的 URL，顺序为过期、新增、无 lastmod。
func selectURLs(plan *service.RefreshPlan, sel syncSelection, in *bufio.Reader, out io.Writer) []string {
	anyFlag := sel.New || sel.Stale || sel.NoLastMod
	choose := func(flag bool, urls []string, question string) bool {
		if len(urls) == 0 {
			return false
		}
		if anyFlag || sel.Yes {
			return flag || (!anyFlag && sel.Yes)
		}
		return confirm(in, out, fmt.Sprintf(question, len(urls)))
	}

	var urls []string
	if choose(sel.Stale, plan.Stale, "%d URLs need an update. Add them?") {
		urls = append(urls, plan.Stale...)
	}
	if choose(sel.New, plan.New, "%d URLs are not in the index. Add them?") {
		urls = append(urls, plan.New...)
	}
	if choose(sel.NoLastMod, plan.NoLastMod, "%d URLs have no date in the sitemap. Add them?") {
		urls = append(urls, plan.NoLastMod...)
	}
	return urls
}
