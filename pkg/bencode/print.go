package bencode

import (
	"fmt"
	"strings"
)

// Dump renders v as an indented tree, one scalar per line.
func Dump(v BenType) string {
	sb := &strings.Builder{}
	printTree(sb, v, "")
	return sb.String()
}

func printTree(sb *strings.Builder, v BenType, indent string) {
	switch t := v.(type) {
	case *Dictionary:
		for _, key := range t.Keys() {
			child := t.Get(key)
			switch child.(type) {
			case *Dictionary, *List:
				fmt.Fprintf(sb, "%s%s:\n", indent, key)
				printTree(sb, child, indent+"\t")
			default:
				fmt.Fprintf(sb, "%s%s: %s\n", indent, key, stringOf(child))
			}
		}
	case *List:
		for i, item := range t.val {
			switch item.(type) {
			case *Dictionary, *List:
				fmt.Fprintf(sb, "%s[%d]:\n", indent, i)
				printTree(sb, item, indent+"\t")
			default:
				fmt.Fprintf(sb, "%s[%d]: %s\n", indent, i, stringOf(item))
			}
		}
	default:
		fmt.Fprintf(sb, "%s%s\n", indent, stringOf(v))
	}
}
