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
    `fmt`
    `strconv`
    `strings`
)

var _InstrFlagNames = [...]struct {
    flag InstrFlags
    name string
} {
    { FrameSetup  , "frame-setup"  },
    { PrologueEnd , "prologue-end" },
    { InBundle    , "bundled"      },
    { InClause    , "clause"       },
    { LastUse     , "last-use"     },
}

// PrintOperand formats a single operand.
func PrintOperand(p *Operand) string {
    switch p.Kind {
        case KindImm   : return strconv.FormatInt(p.Imm, 10)
        case KindBlock : return fmt.Sprintf("%%bb.%d", p.Block.Id)
        case KindSlot  : return fmt.Sprintf("%%stack.%d", p.Slot)
    }

    /* register flags */
    var sb strings.Builder
    if p.IsImplicit() {
        if p.IsDef() {
            sb.WriteString("implicit-def ")
        } else {
            sb.WriteString("implicit ")
        }
    }

    /* liveness flags */
    if p.IsKill()  { sb.WriteString("killed ") }
    if p.IsDead()  { sb.WriteString("dead ") }
    if p.IsUndef() { sb.WriteString("undef ") }

    /* register name */
    sb.WriteString(p.Reg.String())
    if p.Sub != 0 {
        sb.WriteString(fmt.Sprintf(".sub%d", p.Sub - 1))
    }
    return sb.String()
}

// PrintInstr formats a single instruction.
func PrintInstr(ins *Instr) string {
    var defs []string
    var args []string

    /* instruction flags */
    for _, v := range _InstrFlagNames {
        if ins.Has(v.flag) {
            defs = append(defs, v.name)
        }
    }

    /* explicit defs on the left-hand side */
    nd := 0
    for nd < len(ins.Args) && ins.Args[nd].IsDef() && !ins.Args[nd].IsImplicit() {
        nd++
    }

    /* everything else goes to the right-hand side */
    for i := nd; i < len(ins.Args); i++ {
        args = append(args, PrintOperand(&ins.Args[i]))
    }

    /* format the instruction */
    var sb strings.Builder
    if len(defs) != 0 {
        sb.WriteString(strings.Join(defs, " "))
        sb.WriteByte(' ')
    }

    /* left-hand side */
    if nd != 0 {
        lhs := make([]string, nd)
        for i := range lhs { lhs[i] = PrintOperand(&ins.Args[i]) }
        sb.WriteString(strings.Join(lhs, ", "))
        sb.WriteString(" = ")
    }

    /* opcode and operands */
    sb.WriteString(ins.Op.String())
    if len(args) != 0 {
        sb.WriteByte(' ')
        sb.WriteString(strings.Join(args, ", "))
    }
    return sb.String()
}

// Print formats a function in the textual machine IR form.
func Print(fn *Function) string {
    var sb strings.Builder
    sb.WriteString("func @" + fn.Name)

    /* entry functions */
    if fn.Kernel {
        sb.WriteString(" kernel")
    }

    /* virtual registers */
    sb.WriteString(" {\n")
    for i, v := range fn.VRegs {
        fmt.Fprintf(&sb, "  %%%d : %s", i, v.Class)
        if v.Flags & FlagWWM != 0 { sb.WriteString(" wwm") }
        if v.Flags & FlagSpillTemp != 0 { sb.WriteString(" spill-temp") }
        sb.WriteByte('\n')
    }

    /* spill slots */
    for _, s := range fn.Frame.Slots {
        fmt.Fprintf(&sb, "  %s : %s size %d align %d offset %d", s, s.File, s.Size, s.Align, s.Offset)
        if s.Colored { sb.WriteString(" colored") }
        sb.WriteByte('\n')
    }

    /* function info */
    printInfo(&sb, fn)

    /* basic blocks */
    for _, bb := range fn.Blocks {
        fmt.Fprintf(&sb, "bb.%d:\n", bb.Id)
        for _, ins := range bb.Ins {
            sb.WriteString("  ")
            sb.WriteString(PrintInstr(ins))
            sb.WriteByte('\n')
        }
    }

    /* end of function */
    sb.WriteString("}\n")
    return sb.String()
}

func printInfo(sb *strings.Builder, fn *Function) {
    mi := &fn.Info
    opt := func(key string, r Reg) {
        if r != NoReg {
            fmt.Fprintf(sb, "  %s %s\n", key, r)
        }
    }

    /* special registers */
    opt("stack-ptr", mi.StackPtr)
    opt("exec-copy", mi.ExecCopy)
    opt("long-branch", mi.LongBranch)

    /* register lists */
    for _, r := range mi.Reserved { opt("reserved", r) }
    for _, r := range mi.WWMRegs  { opt("wwm-reg", r) }
    for _, r := range mi.LiveIns  { opt("live-in", r) }

    /* frame size */
    if fn.Frame.Size != 0 {
        fmt.Fprintf(sb, "  frame-size %d\n", fn.Frame.Size)
    }

    /* pipeline state */
    if fn.BanksResolved() {
        sb.WriteString("  banks-resolved\n")
    }
    for _, f := range AllocOrder {
        if fn.IsAllocated(f) {
            fmt.Fprintf(sb, "  allocated %s\n", f)
        }
    }
}
