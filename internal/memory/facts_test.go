package memory

import (
	"reflect"
	"testing"
)

func TestExtractFacts(t *testing.T) {
	note := `# 基本信息

**姓名**：张小明
- **年龄:** 32
职业: 产品经理
**公司**：星河科技
所在城市：杭州
- 籍贯：湖南长沙
随便写点别的：不算
`
	got := ExtractFacts(note)
	want := []string{"张小明", "32", "产品经理", "星河科技", "杭州", "湖南长沙"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractFacts() = %q, want %q", got, want)
	}
}

func TestExtractFactsEnglishLabels(t *testing.T) {
	got := ExtractFacts("**Name**: Alice Zhang\nCity: Shanghai")
	want := []string{"Alice Zhang", "Shanghai"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractFacts() = %q, want %q", got, want)
	}
}

func TestActuallyUsed(t *testing.T) {
	memories := []Memory{
		{Title: "基本信息", Content: "**姓名**：张小明\n年龄：32"},
		{Title: "愿景", Content: "城市：杭州"},
		{Title: "空白", Content: "没有标签"},
	}
	response := "张小明你好，32 岁正是好时候。"

	got := ActuallyUsed(memories, response)
	if !reflect.DeepEqual(got, []string{"基本信息"}) {
		t.Fatalf("ActuallyUsed() = %q", got)
	}

	// Facts of two characters or fewer are ignored.
	if got := ActuallyUsed(memories, "杭州"); len(got) != 0 {
		t.Fatalf("short fact should not count, got %q", got)
	}
}
