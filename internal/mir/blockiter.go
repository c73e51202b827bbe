/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mir

import (
    `github.com/oleiade/lane`
)

// BlockIter walks the blocks reachable from the entry in post-order.
type BlockIter struct {
    b *Block
    s *lane.Stack
    v map[int]struct{}
}

func NewBlockIter(fn *Function) *BlockIter {
    s := lane.NewStack()
    s.Push(fn.Entry())

    /* construct the iterator */
    return &BlockIter {
        s: s,
        v: map[int]struct{}{ fn.Entry().Id: {} },
    }
}

func (self *BlockIter) Next() bool {
    var tail bool
    var this *Block

    /* scan until the stack is empty */
    for !self.s.Empty() {
        tail = true
        this = self.s.Head().(*Block)

        /* push the first unvisited successor */
        for _, p := range this.Succ {
            if _, ok := self.v[p.Id]; !ok {
                tail = false
                self.v[p.Id] = struct{}{}
                self.s.Push(p)
                break
            }
        }

        /* all the successors are visited, pop the current node */
        if tail {
            self.b = self.s.Pop().(*Block)
            return true
        }
    }

    /* clear the block pointer to indicate no more blocks */
    self.b = nil
    return false
}

func (self *BlockIter) Block() *Block {
    return self.b
}

func (self *BlockIter) ForEach(action func(bb *Block)) {
    for self.Next() {
        action(self.b)
    }
}

// PostOrder lists the reachable blocks in post-order.
func PostOrder(fn *Function) []*Block {
    ret := make([]*Block, 0, len(fn.Blocks))
    NewBlockIter(fn).ForEach(func(bb *Block) { ret = append(ret, bb) })
    return ret
}

// ReversePostOrder lists the reachable blocks in reverse post-order.
func ReversePostOrder(fn *Function) []*Block {
    ret := PostOrder(fn)
    for i, j := 0, len(ret) - 1; i < j; i, j = i + 1, j - 1 {
        ret[i], ret[j] = ret[j], ret[i]
    }
    return ret
}
